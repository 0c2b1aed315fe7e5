package config

import (
	"os"
	"path/filepath"
	"time"
)

// PinMap is the BCM wiring of the sorter. Beam sensors are wired active-low
// with internal pull-ups.
type PinMap struct {
	Stepper1Step int
	Stepper1Dir  int
	Stepper2Step int
	Stepper2Dir  int
	Beam0        int // home position
	Beam1        int // scan position
}

type Config struct {
	ListenAddr string
	DBPath     string
	RedisURL   string
	Simulated  bool
	Pins       PinMap

	// Motion parameters. PulseHold is the per-edge hold of one step pulse,
	// so a full pulse takes 2*PulseHold.
	PulseHold   time.Duration
	SweepSteps  int
	EjectSteps  int
	StepCeiling int
	CyclePause  time.Duration

	ScryfallBaseURL string
	ScryfallTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		DBPath:     defaultDBPath(),
		Simulated:  true,
		Pins: PinMap{
			Stepper1Step: 5,
			Stepper1Dir:  6,
			Stepper2Step: 24,
			Stepper2Dir:  25,
			Beam0:        4,
			Beam1:        27,
		},
		PulseHold:       time.Millisecond,
		SweepSteps:      1000,
		EjectSteps:      2000,
		StepCeiling:     50000,
		CyclePause:      100 * time.Millisecond,
		ScryfallBaseURL: "https://api.scryfall.com",
		ScryfallTimeout: 8 * time.Second,
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sorter.db"
	}
	return filepath.Join(home, ".local", "state", "sorterd", "sorter.db")
}
