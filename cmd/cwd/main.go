package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/morsekit/cwd/pkg/config"
	"github.com/morsekit/cwd/pkg/logging"
)

var (
	configPath = flag.String("config", "config.yaml", "Configuration file path")
	version    = flag.Bool("version", false, "Show version information")
)

const (
	Version = "0.1.0-dev"
	Build   = "development"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("cwd version %s (%s)\n", Version, Build)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logging.InitGlobalLogger(cfg); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()

	logging.Infof("main", "cwd version %s starting...", Version)
	logging.Infof("main", "Station: %s (%s)", cfg.Station.Callsign, cfg.Station.Grid)
	logging.Infof("main", "Keying: %d WPM, sidetone %d Hz", cfg.Keying.Speed, cfg.Keying.Frequency)
	logging.Infof("main", "Web interface: http://%s:%d", cfg.Web.BindAddress, cfg.Web.Port)

	daemon, err := NewDaemon(cfg)
	if err != nil {
		logging.Errorf("main", "Failed to create daemon: %v", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logging.Errorf("main", "Failed to start daemon: %v", err)
		os.Exit(1)
	}

	logging.Info("main", "cwd started successfully")

	<-sigChan
	logging.Info("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logging.Errorf("main", "Error during shutdown: %v", err)
	}

	logging.Info("main", "cwd stopped")
}

// loadConfig reads the config file, falling back to built-in defaults
// when the default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "config.yaml" {
		log.Printf("No config file found, using defaults")
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}
