package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmind-ai/graphmind/queue"
	"github.com/graphmind-ai/graphmind/supervisor"
)

func TestNewPool_SizeAndSingleMonitor(t *testing.T) {
	q := queue.NewMemory()
	p := NewPool(3, Options{Queue: q, Runner: &fakeRunner{result: &supervisor.AgentState{}}})

	require.Equal(t, 3, p.Size())
	assert.False(t, p.workers[0].disableMonitor)
	assert.True(t, p.workers[1].disableMonitor)
	assert.True(t, p.workers[2].disableMonitor)

	assert.Equal(t, 1, NewPool(0, Options{Queue: q}).Size())
}

func TestPool_RunDrainsQueueAndStops(t *testing.T) {
	q := queue.NewMemory()
	runner := &fakeRunner{result: &supervisor.AgentState{FinalResponse: "ok"}}
	messenger := &fakeMessenger{}
	p := NewPool(2, Options{
		Queue:        q,
		Runner:       runner,
		Messenger:    messenger,
		PollInterval: 5 * time.Millisecond,
	})

	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		ids = append(ids, enqueueGraphRun(t, q, "42", "status"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		counts, err := q.StatusCounts(context.Background())
		require.NoError(t, err)
		if counts[queue.StatusCompleted] == len(ids) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("queue not drained: %v", counts)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}
