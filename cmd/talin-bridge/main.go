package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"talin-bridge/internal/bridge"
	"talin-bridge/internal/config"
	"talin-bridge/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/talin-bridge.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b, err := bridge.New(cfg, bridge.Options{Logs: logs})
	if err != nil {
		log.Fatalf("bridge init failed: %v", err)
	}

	log.Printf("talin-bridge starting")
	log.Printf("talin tcp=%s udp=%s listen=%s period=%s", cfg.TalinTCPAddr(), cfg.TalinUDPAddr(), cfg.ListenAddr(), cfg.Scheduler.Period)
	if err := b.Run(ctx); err != nil {
		log.Printf("bridge stopped: %v", err)
	}
	log.Printf("talin-bridge stopping")
}
