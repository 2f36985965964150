package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/pthm-cable/terrarium/config"
	"github.com/pthm-cable/terrarium/sim"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	maxTicks := flag.Int("max-ticks", 0, "Stop after N ticks (0 = unlimited)")
	speed := flag.Int("speed", 0, "Ticks per update, 1-10 (0 = use config)")
	workers := flag.Int("workers", 0, "Worker pool size for the intent phase (0 = sequential)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	logStats := flag.Bool("log-stats", false, "Output window stats via slog")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	engine, err := sim.New(cfg, sim.Options{
		Seed:      rngSeed,
		Workers:   *workers,
		OutputDir: *outputDir,
		LogStats:  *logStats,
	})
	if err != nil {
		slog.Error("failed to start simulation", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	if *speed > 0 {
		engine.SetSpeed(*speed)
	}

	slog.Info("starting simulation",
		"seed", rngSeed,
		"max_ticks", *maxTicks,
		"workers", *workers,
		"population", engine.Population(),
	)

	for {
		engine.Update()

		if engine.Population() == 0 {
			slog.Info("population extinct", "tick", engine.TickCount())
			return
		}
		if *maxTicks > 0 && int(engine.TickCount()) >= *maxTicks {
			slog.Info("max ticks reached", "tick", engine.TickCount(),
				"population", engine.Population())
			if pred, ok := engine.Predict(100); ok {
				slog.Info("population forecast", "prediction", pred)
			}
			return
		}
	}
}
