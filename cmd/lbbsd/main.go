package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/oilcrest/lbbs/internal/config"
	"github.com/oilcrest/lbbs/internal/engine"
	"github.com/oilcrest/lbbs/internal/logging"
	"github.com/oilcrest/lbbs/internal/module"
	"github.com/oilcrest/lbbs/internal/session"
	"github.com/oilcrest/lbbs/internal/transform"
	"github.com/oilcrest/lbbs/transformer/logtap"
	"github.com/oilcrest/lbbs/transformer/tlsio"
	"github.com/oilcrest/lbbs/transformer/zdeflate"
)

func main() {
	cfgPath := flag.String("config", "lbbs.yml", "server config (optional)")
	flag.Parse()

	logging.InitFromEnv()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Log.Level != "" {
		logging.Configure(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	}
	if dump, err := yaml.Marshal(cfg); err == nil {
		logging.L().Debug("effective config", "yaml", string(dump))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	treg := transform.NewRegistry()
	sreg := session.NewRegistry(treg)

	if cfg.TLS.CertFile != "" {
		if err := tlsio.Register(treg, module.New("tlsio"), tlsio.Config{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
		}); err != nil {
			log.Fatalf("tlsio: %v", err)
		}
	} else {
		logging.L().Warn("no TLS certificate configured; encryption unavailable")
	}
	if err := zdeflate.Register(treg, module.New("zdeflate"), zdeflate.Config{}); err != nil {
		log.Fatalf("zdeflate: %v", err)
	}
	if err := logtap.Register(treg, module.New("logtap"), logtap.Config{
		Sink: cfg.Tap.Sink,
		File: logtap.FileConfig{Dir: cfg.Tap.Dir},
		Kafka: logtap.KafkaConfig{
			Brokers: cfg.Tap.Kafka.Brokers,
			Topic:   cfg.Tap.Kafka.Topic,
			Acks:    cfg.Tap.Kafka.Acks,
		},
	}); err != nil {
		log.Fatalf("logtap: %v", err)
	}

	e, err := engine.Bootstrap(ctx, cfg, treg, sreg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	if err := e.Run(ctx); err != nil {
		log.Fatalf("engine: %v", err)
	}
}
