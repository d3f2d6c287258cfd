package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aistant/aistdoc/internal/kbemu"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const emulatorShutdownTimeout = 5 * time.Second

type emulatorFlags struct {
	addr     string
	stateDSN string
	kb       string
	team     string
	user     string
	password string
}

func newEmulatorCmd(a *app) *cobra.Command {
	flags := &emulatorFlags{}
	cmd := &cobra.Command{
		Use:   "emulator",
		Short: "Serve a local knowledge base for dry runs",
		Long: `Serves the knowledge-base API and a password-grant token endpoint on a
local address. Point aistant.apiHost and aistant.authHost at it to publish
without a remote account.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listener, err := net.Listen("tcp", flags.addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", flags.addr, err)
			}
			return runEmulator(cmd.Context(), listener, flags, a.logger)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", envOrDefault("AISTDOC_EMULATOR_ADDR", "127.0.0.1:5080"), "listen address")
	cmd.Flags().StringVar(&flags.stateDSN, "state", envOrDefault("AISTDOC_EMULATOR_STATE", ""), "state backend DSN: memory://, file://path, sqlite://path or postgres://...")
	cmd.Flags().StringVar(&flags.kb, "kb", envOrDefault("AISTDOC_KB", "docs"), "knowledge base moniker to create")
	cmd.Flags().StringVar(&flags.team, "team", envOrDefault("AISTDOC_TEAM", "local"), "team owning the knowledge base")
	cmd.Flags().StringVar(&flags.user, "user", envOrDefault("AISTDOC_USERNAME", "writer"), "username accepted by the token endpoint")
	cmd.Flags().StringVar(&flags.password, "password", envOrDefault("AISTDOC_PASSWORD", "writer"), "password accepted by the token endpoint")
	return cmd
}

// runEmulator serves on listener until ctx is done, then shuts the server
// down and closes the state backend.
func runEmulator(ctx context.Context, listener net.Listener, flags *emulatorFlags, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend, err := kbemu.BuildStateBackendFromDSN(flags.stateDSN)
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("state backend: %w", err)
	}
	store, err := kbemu.NewStore(kbemu.StoreOptions{Backend: backend, Logger: logger})
	if err != nil {
		_ = listener.Close()
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing emulator state", zap.Error(err))
		}
	}()
	if _, err := store.EnsureKnowledgeBase(flags.team, flags.kb, ""); err != nil {
		_ = listener.Close()
		return err
	}

	server := &http.Server{
		Handler: kbemu.NewServer(store, kbemu.ServerConfig{
			Users:  map[string]string{flags.user: flags.password},
			Logger: logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("emulator listening",
			zap.String("addr", listener.Addr().String()),
			zap.String("team", flags.team),
			zap.String("kb", flags.kb),
		)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), emulatorShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("emulator stopped", zap.Any("stats", store.Stats()))
	return nil
}
