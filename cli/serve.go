package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/registry"
	"github.com/graphmind-ai/graphmind/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the webhook server and the task worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := common.ServiceLogger("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := registry.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	defer reg.Close()

	srv := server.New(server.Options{
		AdminKey:        cfg.Admin.APIKey,
		RateLimit:       cfg.Admin.RateLimit,
		UseDurableQueue: cfg.Queue.UseDurable,
		Queue:           reg.Queue,
		Supervisor:      reg.Supervisor,
		Telemetry:       reg.Telemetry,
		Versioner:       reg.Versioner,
		Messenger:       reg.Messenger,
	})

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.Start(cfg.Server.Host, cfg.Server.Port)
	}()
	if cfg.Queue.UseDurable {
		go func() {
			reg.Workers.Run(ctx)
			errCh <- nil
		}()
		log.WithField("workers", reg.Workers.Size()).Info("durable queue workers running")
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	return nil
}
