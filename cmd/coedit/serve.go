package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/alfredjeanlab/coedit/internal/activity"
	"github.com/alfredjeanlab/coedit/internal/config"
	"github.com/alfredjeanlab/coedit/internal/events"
	"github.com/alfredjeanlab/coedit/internal/gateway"
	"github.com/alfredjeanlab/coedit/internal/room"
	"github.com/alfredjeanlab/coedit/internal/sandbox"
	"github.com/alfredjeanlab/coedit/internal/server"
	"github.com/alfredjeanlab/coedit/internal/store"
	"github.com/alfredjeanlab/coedit/internal/store/memory"
	"github.com/alfredjeanlab/coedit/internal/store/postgres"
	sessionsync "github.com/alfredjeanlab/coedit/internal/sync"
)

// drainTimeout bounds how long shutdown waits for WebSocket connections and
// pending room writes.
const drainTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the coedit server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create a client connection.
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		// Load configuration.
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// Open the session store.
		var st store.Store
		if cfg.DatabaseURL != "" {
			pg, err := postgres.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			st = pg
			logger.Info("using postgres store")
		} else {
			st = memory.New()
			logger.Info("using in-memory store (COEDIT_DATABASE_URL not set)")
		}

		// Create event publisher.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (COEDIT_NATS_URL not set)")
		}

		// Create server components.
		sessionServer := server.NewSessionServer(st, publisher)
		runner := sandbox.NewJSRunner(sandbox.Options{
			Timeout:   cfg.SandboxTimeout,
			MaxOutput: cfg.SandboxMaxOutput,
			MaxMemory: cfg.SandboxMaxMemory,
		})
		coord := room.NewCoordinator(st, runner, sessionServer.Publisher(), logger)
		gw := gateway.New(coord, gateway.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		})

		// Mark quiet sessions idle and release their rooms if nobody is
		// connected.
		sessionServer.Activity().StartReaper(&activity.ReaperConfig{
			OnIdle: func(id string) {
				if err := coord.ReleaseIfEmpty(context.Background(), id); err != nil {
					logger.Warn("failed to release idle room", "session", id, "err", err)
				}
			},
		})

		// Start gRPC listener.
		var grpcServer *grpc.Server
		if cfg.GRPCAddr != "" {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				publisher.Close()
				st.Close()
				return err
			}
			grpcServer = server.NewGRPCServer(sessionServer)
			go func() {
				logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
				if err := grpcServer.Serve(lis); err != nil {
					logger.Error("gRPC server error", "err", err)
				}
			}()
		}

		// Start HTTP server.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           sessionServer.NewHTTPHandler(gw, cfg.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Start sync scheduler if any destinations are configured.
		scheduler := startSync(cfg, st, logger)

		logger.Info("coedit server started",
			"http_addr", cfg.HTTPAddr,
			"grpc_addr", cfg.GRPCAddr,
		)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown.
		sessionServer.Activity().Stop()

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}

		if grpcServer != nil {
			grpcServer.GracefulStop()
			logger.Info("gRPC server stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		// Hijacked WebSocket connections are not tracked by http.Server.
		gw.Shutdown()
		waitForConnections(shutdownCtx, gw, logger)

		if err := coord.Close(shutdownCtx); err != nil {
			logger.Error("error closing rooms", "err", err)
		}
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// startSync builds the configured sync destinations and starts a scheduler
// over them. It returns nil when sync is disabled or no destination could be
// created.
func startSync(cfg *config.Config, st store.Store, logger *slog.Logger) *sessionsync.Scheduler {
	if !cfg.SyncEnabled() {
		return nil
	}

	var dests []sessionsync.Destination
	if cfg.SyncS3Bucket != "" {
		s3Dest, err := sessionsync.NewS3Destination(context.Background(), sessionsync.S3Options{
			Bucket:   cfg.SyncS3Bucket,
			Key:      cfg.SyncS3Key,
			Region:   cfg.SyncS3Region,
			Endpoint: cfg.SyncS3Endpoint,
			History:  cfg.SyncS3History,
		})
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}
	if cfg.SyncGitRepo != "" {
		dests = append(dests, sessionsync.NewGitDestination(sessionsync.GitOptions{
			Repo:   cfg.SyncGitRepo,
			File:   cfg.SyncGitFile,
			Branch: cfg.SyncGitBranch,
			Remote: cfg.SyncGitRemote,
		}))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}
	if len(dests) == 0 {
		return nil
	}

	scheduler := sessionsync.NewScheduler(st, dests, cfg.SyncInterval, logger)
	scheduler.Start()
	logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	return scheduler
}

// waitForConnections polls until every WebSocket connection has finished its
// leave handling or ctx expires.
func waitForConnections(ctx context.Context, gw *gateway.Gateway, logger *slog.Logger) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for gw.Connections() > 0 {
		select {
		case <-ctx.Done():
			logger.Warn("gave up waiting for connections", "open", gw.Connections())
			return
		case <-ticker.C:
		}
	}
}
