package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/wrongjunior/devlens/internal/config"
	"github.com/wrongjunior/devlens/internal/logger"
	"github.com/wrongjunior/devlens/internal/service"
	transportClient "github.com/wrongjunior/devlens/internal/transport/client"
	"go.uber.org/zap"
)

// devlens-tail подписывается на шину хоста и печатает события в stdout.
func main() {
	configPath := flag.String("config", "devlens.yaml", "Path to configuration file")
	busURL := flag.String("url", "", "Host bus URL (default ws://<http.addr><http.events_path>)")
	channels := flag.String("channels", "", "Comma-separated channels to print (default all)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}
	// stdout занят событиями, логи идут в stderr.
	log, err := logger.NewWithOutput(cfg.Log, os.Stderr)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	url := *busURL
	if url == "" {
		url = "ws://" + cfg.HTTP.Addr + cfg.HTTP.EventsPath
	}
	var filter []string
	if *channels != "" {
		filter = strings.Split(*channels, ",")
	}

	tail := service.NewTailService(os.Stdout, log, filter...)
	sub := transportClient.NewSubscriber(url, tail.ProcessEvent, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Tailing host bus", zap.String("url", url), zap.Strings("channels", filter))
	sub.Listen(ctx)
	log.Info("Tail stopped")
}
