package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/eddielth/smartthings-influx/config"
	"github.com/eddielth/smartthings-influx/logger"
	"github.com/eddielth/smartthings-influx/metrics"
	"github.com/eddielth/smartthings-influx/mqtt"
	"github.com/eddielth/smartthings-influx/poller"
	"github.com/eddielth/smartthings-influx/smartthings"
	"github.com/eddielth/smartthings-influx/storage"
	"github.com/eddielth/smartthings-influx/transformer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	once := flag.Bool("once", false, "run a single polling cycle and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := logger.InitFromConfig(cfg.Logger.Level, cfg.Logger.FilePath, cfg.Logger.MaxSize, cfg.Logger.MaxBackups, cfg.Logger.Console); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, cfg, *once); err != nil {
		logger.Error("%v", err)
		logger.Close()
		log.Fatal(err)
	}
	logger.Info("service stopped")
}

func run(ctx context.Context, configPath string, cfg *config.Config, once bool) error {
	scripts, err := transformer.NewManager(cfg.Capabilities)
	if err != nil {
		return err
	}

	collectors := metrics.New()
	mapper := transformer.NewMapper(scripts)
	mapper.OnDrop(collectors.Dropped)

	var publisher storage.Publisher
	if cfg.Storage.MQTT.Enabled {
		mqttClient, err := mqtt.NewClient(cfg.MQTT)
		if err != nil {
			return err
		}
		if err := mqttClient.Connect(); err != nil {
			return err
		}
		defer mqttClient.Disconnect()
		publisher = mqttClient
	}

	sinks, err := storage.NewFromConfig(ctx, cfg.Storage, publisher)
	if err != nil {
		return err
	}
	defer sinks.Close()
	sinks.OnError(collectors.StorageError)

	client, err := smartthings.NewClient(cfg.SmartThings)
	if err != nil {
		return err
	}

	p := poller.New(client, mapper, sinks, cfg.Poll.Concurrency)
	p.SetObserver(collectors)

	if once {
		return p.PollOnce(ctx)
	}

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := collectors.Serve(ctx, cfg.Metrics.Listen, cfg.Metrics.Path); err != nil {
				logger.Error("metrics server stopped: %v", err)
			}
		}()
	}

	err = config.WatchConfig(configPath, func(newCfg *config.Config) error {
		if err := logger.SetLevel(newCfg.Logger.Level); err != nil {
			logger.Warn("keeping log level: %v", err)
		}
		p.SetInterval(newCfg.Poll.Interval)
		logger.Info("storage and SmartThings changes take effect after a restart")
		return scripts.Apply(newCfg.Capabilities)
	})
	if err != nil {
		logger.Warn("not watching config file: %v", err)
	} else {
		logger.Info("watching config file %s", configPath)
	}

	logger.Info("polling every %s, writing to %v", cfg.Poll.Interval, sinks.Names())
	if err := p.Run(ctx, cfg.Poll.Interval); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
