// hwmqtt publishes local hardware sensor readings to an MQTT broker using
// the Home Assistant discovery convention.
//
// Every enabled sensor is announced once with a retained discovery message
// and then refreshed on a fixed interval with its formatted value. A local
// HTTP API exposes status and lets an operator stop, start and reconfigure
// the publisher without restarting the process.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/nerrad567/hwmqtt/internal/api"
	"github.com/nerrad567/hwmqtt/internal/hardware"
	"github.com/nerrad567/hwmqtt/internal/infrastructure/config"
	"github.com/nerrad567/hwmqtt/internal/infrastructure/logging"
	"github.com/nerrad567/hwmqtt/internal/sensor"
	"github.com/nerrad567/hwmqtt/internal/supervisor"
	"github.com/nerrad567/hwmqtt/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar overrides the default config path when --config is not given.
const configEnvVar = "HWMQTT_CONFIG"

// options are the parsed command-line flags.
type options struct {
	configPath  string
	showVersion bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("hwmqtt %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts.configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args into options. The config path falls back to
// $HWMQTT_CONFIG and then to the default path.
func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("hwmqtt", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (default $"+configEnvVar+" or "+defaultConfigPath+")")
	fs.BoolVar(&opts.showVersion, "version", false, "print version information and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if opts.configPath == "" {
		opts.configPath = getConfigPath()
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting hwmqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "closing log file: %v\n", closeErr)
		}
	}()
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
	)

	device, err := deviceFor(cfg.Device, hardware.DescribeHost(ctx))
	if err != nil {
		return err
	}
	log.Info("device identified", "name", device.Name, "model", device.Model)

	cats := categoriesFrom(cfg.Sensors)
	if !cats.Any() {
		log.Warn("no sensor categories enabled; discovery will find nothing")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics := telemetry.NewMetrics(registry)

	var sup *supervisor.Supervisor
	hwLog := log.With("component", "hardware")
	svc, err := telemetry.New(telemetry.Options{
		OpenSource: func(ctx context.Context, cats hardware.Categories) (hardware.Source, error) {
			src, openErr := hardware.Open(ctx, cats, hwLog)
			if openErr != nil {
				return nil, openErr
			}
			return src, nil
		},
		NewPublisher: telemetry.MQTTFactory(cfg.MQTT, log.With("component", "mqtt"), metrics),
		Device:       device,
		Topics: sensor.Topics{
			DiscoveryPrefix: cfg.MQTT.Topics.DiscoveryPrefix,
			StatePrefix:     cfg.MQTT.Topics.StatePrefix,
		},
		Categories:             cats,
		UpdateInterval:         cfg.UpdateInterval(),
		MaxConcurrentPublishes: cfg.Service.MaxConcurrentPublishes,
		Logger:                 log.With("component", "telemetry"),
		Metrics:                metrics,
		OnStopped: func(err error) {
			sup.ServiceStopped(err)
		},
	})
	if err != nil {
		return fmt.Errorf("creating telemetry service: %w", err)
	}

	sup = supervisor.New(svc, supervisor.FromServiceConfig(cfg.Service))
	sup.SetLogger(log.With("component", "supervisor"))

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log.With("component", "api"),
			Service:    svc,
			Controller: sup,
			Gatherer:   registry,
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("control API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Run blocks until ctx ends, then stops the service.
	if err := sup.Run(ctx); err != nil {
		log.Error("service shutdown incomplete", "error", err)
	}

	log.Info("hwmqtt stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HWMQTT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// deviceFor fills unset device fields from the host description.
func deviceFor(cfg config.DeviceConfig, host hardware.HostInfo) (sensor.Device, error) {
	name := cfg.Name
	if name == "" {
		name = host.Hostname
	}
	model := cfg.Model
	if model == "" {
		model = host.Model
	}

	device := sensor.NewDevice(name, model, cfg.Manufacturer)
	if device.Name == "" {
		return sensor.Device{}, errors.New("no usable device name: set device.name or HWMQTT_DEVICE_NAME")
	}
	return device, nil
}

// categoriesFrom converts the sensors section of the config file.
func categoriesFrom(cfg config.SensorsConfig) hardware.Categories {
	return hardware.Categories{
		CPU:         cfg.CPU,
		GPU:         cfg.GPU,
		Memory:      cfg.Memory,
		Motherboard: cfg.Motherboard,
		Controller:  cfg.Controller,
		Networking:  cfg.Networking,
		Storage:     cfg.Storage,
	}
}
