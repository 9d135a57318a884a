package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"event-pipeline/internal/client"
	"event-pipeline/internal/factory"
	"event-pipeline/internal/routing"
	"event-pipeline/internal/util"
)

func main() {
	f, err := factory.NewFactory(factory.GeneratorOptions())
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	topicCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := client.EnsureTopics(topicCtx, cfg, routing.Topics()); err != nil {
		if cfg.IsProduction() {
			cancel()
			util.Fatal("Failed to ensure kafka topics", util.ErrorField(err))
		}
		util.Warn("Could not ensure kafka topics - relying on broker auto-create", util.ErrorField(err))
	}
	cancel()

	generator, err := f.ServiceFactory().GeneratorService()
	if err != nil {
		util.Fatal("Failed to build generator service", util.ErrorField(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := generator.Run(ctx); err != nil {
		util.Error("Event generator stopped with error", util.ErrorField(err))
	}
}
