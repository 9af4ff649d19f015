package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"parkgate/backend/libs/logging"
	"parkgate/backend/services/gate-service/internal/app"
	"parkgate/backend/services/gate-service/internal/config"
	"parkgate/backend/services/gate-service/internal/scanner"
)

func main() {
	// gate-service hash-device-key <key> prints the value for scanner.deviceKeyHash.
	if len(os.Args) == 3 && os.Args[1] == "hash-device-key" {
		hash, err := scanner.HashDeviceKey(os.Args[2], 0)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger("gate-service")
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // best-effort flush

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize gate service", zap.Error(err))
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("gate service stopped with error", zap.Error(err))
	}
}
