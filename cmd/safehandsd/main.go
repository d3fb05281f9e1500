package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"safehands/config"
	"safehands/core"
	"safehands/gateway"
	"safehands/observability/logging"
	"safehands/rpc"
	"safehands/storage"
)

const shutdownGrace = 10 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SAFEHANDS_ENV"))
	logger := logging.Setup("safehandsd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("dir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	node := core.NewNode(db)

	allocs, err := cfg.GenesisAllocs()
	if err != nil {
		logger.Error("Invalid genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}
	if err := node.ApplyGenesis(allocs); err != nil {
		logger.Error("Failed to apply genesis", slog.Any("error", err))
		os.Exit(1)
	}

	rpcSrv := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           rpc.NewServer(node).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	gatewaySrv := &http.Server{
		Addr:              cfg.GatewayAddress,
		Handler:           gateway.NewServer(node, gateway.Options{JWTSecret: cfg.GatewayJWTSecret}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("JSON-RPC listening", slog.String("addr", cfg.RPCAddress), slog.String("network", cfg.NetworkName))
		if err := rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("Gateway listening", slog.String("addr", cfg.GatewayAddress))
		if err := gatewaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("Server failed", slog.Any("error", err))
	case sig := <-quit:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := rpcSrv.Shutdown(ctx); err != nil {
		logger.Warn("RPC shutdown incomplete", slog.Any("error", err))
	}
	if err := gatewaySrv.Shutdown(ctx); err != nil {
		logger.Warn("Gateway shutdown incomplete", slog.Any("error", err))
	}
}
