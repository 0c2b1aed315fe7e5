// Package sequence implements the sorter's motion state machine:
// Idle -> Homing -> Oscillating -> Ejecting -> Homing, one cycle per card.
// Exactly one run is active at a time; a start request while running is
// rejected, not queued. Cancellation is cooperative: Stop is observed at the
// next poll point inside a motion primitive, within one pulse interval.
package sequence

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cardsort/sorterd/internal/model"
	"github.com/cardsort/sorterd/internal/motion"
	"github.com/cardsort/sorterd/internal/scanlog"
)

// ErrAlreadyRunning is returned by Start while a run is active.
var ErrAlreadyRunning = errors.New("sequence already running")

// Config carries the motion constants of one run.
type Config struct {
	// SweepSteps is the forward leg of one oscillation pass.
	SweepSteps int
	// EjectSteps is the blind fixed-distance eject motion.
	EjectSteps int
	// StepCeiling bounds homing and return-to-home; reaching it without a
	// sensor trip is a fatal sensor fault.
	StepCeiling int
	// CyclePause is the idle gap between a completed eject and the next
	// homing phase.
	CyclePause time.Duration
}

// Snapshot is the externally readable view of the controller's state.
type Snapshot struct {
	Phase            model.Phase `json:"phase"`
	Running          bool        `json:"running"`
	StatusMessage    string      `json:"status"`
	Error            string      `json:"error"`
	CycleCount       int         `json:"cycle_count"`
	OscillationCount int         `json:"oscillation_count"`
	LastScanTS       string      `json:"last_scan_timestamp"`
}

// Controller owns the sequence state. All fields under mu are mutated only
// by the run goroutine, except stopRequested which any caller may raise via
// Stop. No critical section spans a pulse wait.
type Controller struct {
	driver     *motion.Driver
	homeSensor func() bool
	slot       *scanlog.Slot
	cfg        Config
	log        *slog.Logger

	mu            sync.Mutex
	phase         model.Phase
	running       bool
	stopRequested bool
	statusMsg     string
	lastErr       string
	cycleCount    int
	oscCount      int
	lastScanTS    string
}

func New(driver *motion.Driver, homeSensor func() bool, slot *scanlog.Slot, cfg Config, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		driver:     driver,
		homeSensor: homeSensor,
		slot:       slot,
		cfg:        cfg,
		log:        log,
		phase:      model.PhaseIdle,
		statusMsg:  "Idle",
	}
}

// Start begins a run on its own goroutine. The current card's timestamp is
// snapshotted first so a scan that predates the run is not mistaken for a
// new one.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.stopRequested = false
	c.cycleCount = 0
	c.oscCount = 0
	c.lastErr = ""
	c.lastScanTS = ""
	c.mu.Unlock()

	if card := c.slot.Current(); card != nil {
		c.mu.Lock()
		c.lastScanTS = card.ScanTimestamp
		c.mu.Unlock()
	}

	go c.run()
	return nil
}

// Stop requests cancellation of the active run. The run terminates at its
// next poll point; callers observe completion through Snapshot.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.stopRequested = true
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Phase:            c.phase,
		Running:          c.running,
		StatusMessage:    c.statusMsg,
		Error:            c.lastErr,
		CycleCount:       c.cycleCount,
		OscillationCount: c.oscCount,
		LastScanTS:       c.lastScanTS,
	}
}

func (c *Controller) shouldStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequested
}

func (c *Controller) setPhase(phase model.Phase, msg string) {
	c.mu.Lock()
	c.phase = phase
	c.statusMsg = msg
	c.mu.Unlock()
	c.log.Info("phase", "phase", string(phase), "msg", msg)
}

func (c *Controller) setError(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.statusMsg = "ERROR: " + msg
	c.mu.Unlock()
	c.log.Error("sequence fault", "err", msg)
}

// newScan returns the slot's record when its timestamp differs from the last
// acknowledged one.
func (c *Controller) newScan() *model.CardRecord {
	card := c.slot.Current()
	if card == nil {
		return nil
	}
	c.mu.Lock()
	last := c.lastScanTS
	c.mu.Unlock()
	if card.ScanTimestamp == last {
		return nil
	}
	return card
}

func (c *Controller) run() {
	c.log.Info("sort loop started")
	defer c.finish()

	for !c.shouldStop() {
		c.mu.Lock()
		cycle := c.cycleCount + 1
		c.mu.Unlock()

		// Homing: reverse toward the home beam.
		c.setPhase(model.PhaseHoming, fmt.Sprintf("Cycle %d: homing to beam 0", cycle))
		res := c.driver.RunUntilSensor(motion.Reverse, c.homeSensor, c.shouldStop, c.cfg.StepCeiling)
		switch res.Outcome {
		case motion.Aborted:
			return
		case motion.CeilingReached:
			c.setError(fmt.Sprintf("cycle %d: home sensor never triggered", cycle))
			return
		}
		c.log.Info("homed", "cycle", cycle, "steps", res.Steps)

		// Oscillating: sweep forward and return until a scan lands.
		c.setPhase(model.PhaseOscillating, fmt.Sprintf("Cycle %d: oscillating, waiting for scan", cycle))
		c.mu.Lock()
		c.oscCount = 0
		c.mu.Unlock()

		card, ok := c.oscillate(cycle)
		if !ok {
			return
		}
		if card == nil {
			// Slot was cleared between detection and pickup; go around.
			continue
		}

		// Acknowledge the scan so the same card cannot re-trigger a later
		// pass, then eject blind.
		c.mu.Lock()
		c.lastScanTS = card.ScanTimestamp
		c.mu.Unlock()
		c.log.Info("card scanned", "cycle", cycle, "card", card.Name, "bin", card.Bin)

		c.setPhase(model.PhaseEjecting, fmt.Sprintf("Cycle %d: ejecting %d steps", cycle, c.cfg.EjectSteps))
		res = c.driver.StepN(motion.Forward, c.cfg.EjectSteps, c.shouldStop, nil)
		if res.Outcome == motion.Aborted {
			return
		}

		c.mu.Lock()
		c.cycleCount = cycle
		c.mu.Unlock()
		c.log.Info("ejected", "cycle", cycle, "steps", res.Steps)

		time.Sleep(c.cfg.CyclePause)
	}
}

// oscillate runs forward/return passes until a new scan arrives. It returns
// the scanned card, or ok=false when the run must terminate (stop or fault;
// the fault is already recorded).
func (c *Controller) oscillate(cycle int) (*model.CardRecord, bool) {
	for !c.shouldStop() {
		c.mu.Lock()
		c.oscCount++
		osc := c.oscCount
		c.mu.Unlock()

		c.setPhase(model.PhaseOscillating, fmt.Sprintf("Cycle %d: pass %d forward", cycle, osc))
		res := c.driver.StepN(motion.Forward, c.cfg.SweepSteps, c.shouldStop, func() bool { return c.newScan() != nil })
		switch res.Outcome {
		case motion.Aborted:
			return nil, false
		case motion.ScanDetected:
			return c.newScan(), true
		}

		c.setPhase(model.PhaseOscillating, fmt.Sprintf("Cycle %d: pass %d returning to beam 0", cycle, osc))
		res = c.driver.RunUntilSensor(motion.Reverse, c.homeSensor, c.shouldStop, c.cfg.StepCeiling)
		switch res.Outcome {
		case motion.Aborted:
			return nil, false
		case motion.CeilingReached:
			c.setError(fmt.Sprintf("cycle %d: lost home sensor during oscillation", cycle))
			return nil, false
		}

		// A scan may have landed while returning home; check before the
		// next forward sweep begins.
		if card := c.newScan(); card != nil {
			return card, true
		}
	}
	return nil, false
}

// finish closes out the run. Status precedence: fault, then stop, then
// completion.
func (c *Controller) finish() {
	c.mu.Lock()
	c.running = false
	switch {
	case c.lastErr != "":
		c.phase = model.PhaseIdle
	case c.stopRequested:
		c.statusMsg = fmt.Sprintf("Stopped after %d cards", c.cycleCount)
		c.phase = model.PhaseIdle
	default:
		c.statusMsg = fmt.Sprintf("Complete: %d cards sorted", c.cycleCount)
		c.phase = model.PhaseIdle
	}
	cycles := c.cycleCount
	c.mu.Unlock()
	c.log.Info("sort loop ended", "cycles", cycles)
}
