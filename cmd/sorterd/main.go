package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cardsort/sorterd/internal/config"
	"github.com/cardsort/sorterd/internal/daemon"
	"github.com/cardsort/sorterd/internal/db"
	"github.com/cardsort/sorterd/internal/gpio"
	"github.com/cardsort/sorterd/internal/motion"
	"github.com/cardsort/sorterd/internal/scanlog"
	"github.com/cardsort/sorterd/internal/scryfall"
	"github.com/cardsort/sorterd/internal/sequence"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	_ = godotenv.Load()
	if v := os.Getenv("SORTERD_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}

	cmd := &cobra.Command{
		Use:   "sorterd",
		Short: "Card sorter control daemon",
		Long: `sorterd drives a stepper-actuated card sorting machine: it oscillates a
carriage past an optical scanner, classifies each scanned card against a
configurable rule list, and ejects the card toward its bin. On machines
without GPIO hardware it runs in simulation mode.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	cmd.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite path")
	cmd.Flags().BoolVar(&cfg.Simulated, "sim", cfg.Simulated, "simulate GPIO instead of driving hardware")
	cmd.Flags().StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "optional Redis URL for the enrichment cache")
	return cmd
}

func run(parent context.Context, cfg config.Config) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		return err
	}

	chip, sim, err := openChip(cfg)
	if err != nil {
		return err
	}
	defer chip.Close() //nolint:errcheck
	chip.SetupInputPullUp(cfg.Pins.Beam0)
	chip.SetupInputPullUp(cfg.Pins.Beam1)

	slot := scanlog.NewSlot()
	scans := scanlog.NewLog()
	persisted, err := store.ListScans(ctx)
	if err != nil {
		return err
	}
	scans.Prime(persisted)
	if len(persisted) > 0 {
		last := persisted[len(persisted)-1]
		slot.Publish(last)
		log.Info("restored scan log", "scans", len(persisted), "current", last.Name)
	}

	cache, err := buildCache(cfg)
	if err != nil {
		return err
	}
	enricher := scryfall.NewClient(cfg.ScryfallBaseURL, cfg.ScryfallTimeout, cache, log.With("component", "scryfall"))

	stepper1 := motion.NewDriver(chip, cfg.Pins.Stepper1Step, cfg.Pins.Stepper1Dir, cfg.PulseHold)
	stepper2 := motion.NewDriver(chip, cfg.Pins.Stepper2Step, cfg.Pins.Stepper2Dir, cfg.PulseHold)

	homeSensor := func() bool { return !chip.Read(cfg.Pins.Beam0) }
	seq := sequence.New(stepper1, homeSensor, slot, sequence.Config{
		SweepSteps:  cfg.SweepSteps,
		EjectSteps:  cfg.EjectSteps,
		StepCeiling: cfg.StepCeiling,
		CyclePause:  cfg.CyclePause,
	}, log.With("component", "sequence"))

	srv := daemon.NewServer(cfg, daemon.Deps{
		Store:    store,
		Chip:     chip,
		Sim:      sim,
		Seq:      seq,
		Steppers: map[int]*motion.Driver{1: stepper1, 2: stepper2},
		Enricher: enricher,
		Slot:     slot,
		Scans:    scans,
		Log:      log.With("component", "daemon"),
	})
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	seq.Stop()
	return nil
}

func openChip(cfg config.Config) (gpio.Chip, *gpio.Sim, error) {
	if cfg.Simulated {
		sim := gpio.NewSim()
		return sim, sim, nil
	}
	chip, err := gpio.OpenRPIO()
	if err != nil {
		return nil, nil, err
	}
	return chip, nil, nil
}

func buildCache(cfg config.Config) (scryfall.Cache, error) {
	if cfg.RedisURL == "" {
		return scryfall.NewMemoryCache(), nil
	}
	client, err := scryfall.ConnectRedis(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return scryfall.NewRedisCache(client), nil
}
