package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/michaelpento.lv/arbengine/cmd"
	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/utils"

	"go.uber.org/zap"
)

func main() {
	// .env is optional; real settings come from config and flags
	_ = config.LoadEnv()

	log := utils.GetLogger()
	defer utils.CleanupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Error("exited with error", zap.Error(err))
		os.Exit(1)
	}
}
