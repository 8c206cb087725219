package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/zhouzirui/gyn-intake/backend/internal/app"
	"github.com/zhouzirui/gyn-intake/backend/internal/config"
	"github.com/zhouzirui/gyn-intake/backend/internal/handler"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		klog.V(1).Infof("no .env file loaded, using system environment variables only: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		klog.Fatalf("failed to load configuration: %v", err)
	}
	app.SetVerbosity(flag.CommandLine, cfg.Log)

	a, err := app.Build(ctx, cfg)
	if err != nil {
		klog.Fatalf("failed to initialize services: %v", err)
	}

	router := handler.NewRouter(a.Workflow, a.Sessions, a.Protocols)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	klog.Infof("intake backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		klog.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
