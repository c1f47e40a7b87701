package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nebula-chat/internal/agent"
	"nebula-chat/internal/handler"
	"nebula-chat/internal/service"
	"nebula-chat/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference conversation backend",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	responder, err := agent.New(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("init responder: %w", err)
	}

	store := openStore(cfg)
	defer store.Close()

	sessions := service.NewSessionService(store, responder)
	router := handler.NewRouter(cfg, handler.NewChatHandler(sessions, cfg.Server.StreamTimeout))

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("listening on port %d (provider %s)", cfg.Server.Port, cfg.Model.Provider)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("graceful shutdown failed: %v", err)
		return server.Close()
	}
	logger.Info("server stopped")
	return nil
}
