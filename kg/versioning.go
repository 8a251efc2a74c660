package kg

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/graphmind-ai/graphmind/common"
)

// RollbackAgent is the source_agent recorded on changelog entries produced
// by rollback.
const RollbackAgent = "rollback"

// Versioner couples a graph store with its changelog. It is the only path
// through which diffs reach the store, so every successful apply leaves an
// audit record.
type Versioner struct {
	store     GraphStore
	changelog ChangelogStore
	log       *logrus.Entry
}

// NewVersioner wires a graph store and changelog store together.
func NewVersioner(store GraphStore, changelog ChangelogStore) *Versioner {
	return &Versioner{
		store:     store,
		changelog: changelog,
		log:       common.ServiceLogger("kg"),
	}
}

// Store exposes the underlying graph store for read-side callers (linker,
// telemetry).
func (v *Versioner) Store() GraphStore { return v.store }

// Changelog exposes the underlying changelog store for read-side callers.
func (v *Versioner) Changelog() ChangelogStore { return v.changelog }

// ApplyDiff checks bounds and delegates to the store. It does not write the
// changelog; commit flows call RecordChange after a successful apply so a
// failed store apply leaves no changelog entry.
func (v *Versioner) ApplyDiff(ctx context.Context, diff *Diff) (*ApplyResult, error) {
	if err := diff.CheckBounds(); err != nil {
		return nil, common.NewValidationError("diff", "%v", err)
	}
	result, err := v.store.ApplyDiff(ctx, diff)
	if err != nil {
		return nil, fmt.Errorf("store apply failed: %w", err)
	}
	return result, nil
}

// RecordChange appends a changelog entry for an applied diff and returns the
// stored entry with its assigned version. Entries are never mutated after
// this point.
func (v *Versioner) RecordChange(ctx context.Context, diff *Diff, diffID, sourceAgent, sourceDocument, reason string, result *ApplyResult) (*ChangelogEntry, error) {
	if diffID == "" {
		diffID = uuid.NewString()
	}
	entry := &ChangelogEntry{
		DiffID:         diffID,
		Diff:           *diff,
		SourceAgent:    sourceAgent,
		SourceDocument: sourceDocument,
		Reason:         reason,
		Result:         result,
		Summary:        diff.Summary(),
	}
	stored, err := v.changelog.Append(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("changelog append failed: %w", err)
	}
	v.log.WithFields(logrus.Fields{
		"version": stored.Version,
		"diff_id": stored.DiffID,
		"agent":   sourceAgent,
		"summary": stored.Summary,
	}).Info("KG change recorded")
	return stored, nil
}

// Commit applies a diff and records it in one call. On store failure no
// changelog entry is written and the error is returned for the caller's
// checkpoint to preserve the proposed diff.
func (v *Versioner) Commit(ctx context.Context, diff *Diff, diffID, sourceAgent, sourceDocument, reason string) (*ChangelogEntry, *ApplyResult, error) {
	result, err := v.ApplyDiff(ctx, diff)
	if err != nil {
		return nil, nil, err
	}
	entry, err := v.RecordChange(ctx, diff, diffID, sourceAgent, sourceDocument, reason, result)
	if err != nil {
		return nil, result, err
	}
	return entry, result, nil
}

// RollbackTo synthesizes the reverse of every entry after version target,
// applies it, and appends a new changelog entry labeled rollback. Updates in
// the walked entries are not inverted (pre-images are not stored); their
// count is noted in the rollback entry's summary. Rolling back to the
// current or a future version is an error.
func (v *Versioner) RollbackTo(ctx context.Context, target int64) (*ChangelogEntry, error) {
	current, err := v.changelog.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current version: %w", err)
	}
	if target >= current {
		return nil, fmt.Errorf("cannot rollback to current/future version %d (current %d)", target, current)
	}
	if target < 0 {
		return nil, fmt.Errorf("invalid rollback target %d", target)
	}

	entries, err := v.changelog.After(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries after version %d: %w", target, err)
	}

	reverse := &Diff{}
	skippedUpdates := 0
	// Walk newest-first so reversals apply in the opposite order of the
	// original commits.
	for i := len(entries) - 1; i >= 0; i-- {
		rev, skipped := entries[i].Diff.Reverse()
		skippedUpdates += skipped
		reverse.Merge(rev)
	}
	reverse.Metadata.Reason = fmt.Sprintf("rollback to version %d", target)

	result, err := v.store.ApplyDiff(ctx, reverse)
	if err != nil {
		return nil, fmt.Errorf("rollback apply failed: %w", err)
	}

	entry := &ChangelogEntry{
		DiffID:      uuid.NewString(),
		Diff:        *reverse,
		SourceAgent: RollbackAgent,
		Reason:      reverse.Metadata.Reason,
		Result:      result,
		Summary:     reverse.Summary(),
	}
	if skippedUpdates > 0 {
		entry.Summary = fmt.Sprintf("%s (%d updates not inverted)", entry.Summary, skippedUpdates)
	}
	stored, err := v.changelog.Append(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("rollback changelog append failed: %w", err)
	}
	v.log.WithFields(logrus.Fields{
		"target":  target,
		"version": stored.Version,
	}).Info("KG rolled back")
	return stored, nil
}
