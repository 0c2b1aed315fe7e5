package sequence_test

import (
	"testing"
	"time"

	"github.com/cardsort/sorterd/internal/gpio"
	"github.com/cardsort/sorterd/internal/model"
	"github.com/cardsort/sorterd/internal/motion"
	"github.com/cardsort/sorterd/internal/scanlog"
	"github.com/cardsort/sorterd/internal/sequence"
)

const (
	stepPin = 5
	dirPin  = 6
	beamPin = 4
)

type fixture struct {
	sim  *gpio.Sim
	slot *scanlog.Slot
	ctrl *sequence.Controller
}

func newFixture(t *testing.T, cfg sequence.Config) *fixture {
	t.Helper()
	sim := gpio.NewSim()
	sim.SetupInputPullUp(beamPin)
	slot := scanlog.NewSlot()
	driver := motion.NewDriver(sim, stepPin, dirPin, 0)
	homeSensor := func() bool { return !sim.Read(beamPin) }
	ctrl := sequence.New(driver, homeSensor, slot, cfg, nil)
	t.Cleanup(func() {
		ctrl.Stop()
		waitFor(t, func() bool { return !ctrl.Snapshot().Running }, "controller to stop")
	})
	return &fixture{sim: sim, slot: slot, ctrl: ctrl}
}

func fastConfig() sequence.Config {
	return sequence.Config{
		SweepSteps:  50,
		EjectSteps:  50,
		StepCeiling: 5000,
		CyclePause:  time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func card(ts string) model.CardRecord {
	return model.CardRecord{ID: ts, Name: "Birds of Paradise", ScanTimestamp: ts, Bin: 4}
}

func TestHomingCeilingIsFatal(t *testing.T) {
	f := newFixture(t, sequence.Config{SweepSteps: 50, EjectSteps: 50, StepCeiling: 20, CyclePause: time.Millisecond})
	// Beam never trips: homing must fault at the ceiling.
	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return !f.ctrl.Snapshot().Running }, "run to terminate")

	snap := f.ctrl.Snapshot()
	if snap.Error == "" {
		t.Fatalf("expected sensor fault to be recorded")
	}
	if snap.Phase != model.PhaseIdle {
		t.Fatalf("expected idle after fault, got %s", snap.Phase)
	}
	if snap.CycleCount != 0 {
		t.Fatalf("expected no completed cycles, got %d", snap.CycleCount)
	}
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	f := newFixture(t, fastConfig())
	f.sim.SetBeam(beamPin, true)

	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return f.ctrl.Snapshot().Phase == model.PhaseOscillating }, "oscillation")

	before := f.ctrl.Snapshot()
	if err := f.ctrl.Start(); err != sequence.ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	after := f.ctrl.Snapshot()
	if !after.Running || after.Error != before.Error || after.CycleCount != before.CycleCount {
		t.Fatalf("rejected start must not disturb the active run: before=%+v after=%+v", before, after)
	}
}

func TestStopDuringOscillationLeavesCycleCountUnchanged(t *testing.T) {
	f := newFixture(t, fastConfig())
	f.sim.SetBeam(beamPin, true)

	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return f.ctrl.Snapshot().OscillationCount > 0 }, "oscillation passes")

	f.ctrl.Stop()
	waitFor(t, func() bool { return !f.ctrl.Snapshot().Running }, "run to stop")

	snap := f.ctrl.Snapshot()
	if snap.CycleCount != 0 {
		t.Fatalf("stop must not count the in-progress cycle, got %d", snap.CycleCount)
	}
	if snap.Error != "" {
		t.Fatalf("voluntary stop is not an error, got %q", snap.Error)
	}
	if snap.Phase != model.PhaseIdle {
		t.Fatalf("expected idle after stop, got %s", snap.Phase)
	}
}

func TestScanDetectionTriggersEject(t *testing.T) {
	cfg := fastConfig()
	// A huge eject keeps the controller in the ejecting phase long enough
	// to observe it.
	cfg.EjectSteps = 50_000_000
	f := newFixture(t, cfg)
	f.sim.SetBeam(beamPin, true)

	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return f.ctrl.Snapshot().Phase == model.PhaseOscillating }, "oscillation")

	f.slot.Publish(card("2026-01-02T15:04:05Z"))
	waitFor(t, func() bool { return f.ctrl.Snapshot().Phase == model.PhaseEjecting }, "ejecting phase")

	snap := f.ctrl.Snapshot()
	if snap.LastScanTS != "2026-01-02T15:04:05Z" {
		t.Fatalf("expected scan to be acknowledged, got %q", snap.LastScanTS)
	}

	// Stop mid-eject: the interrupted cycle must not be counted.
	f.ctrl.Stop()
	waitFor(t, func() bool { return !f.ctrl.Snapshot().Running }, "run to stop")
	if got := f.ctrl.Snapshot().CycleCount; got != 0 {
		t.Fatalf("aborted eject must not count as a completed cycle, got %d", got)
	}
}

func TestSameScanDoesNotRetrigger(t *testing.T) {
	f := newFixture(t, fastConfig())
	f.sim.SetBeam(beamPin, true)

	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return f.ctrl.Snapshot().Phase == model.PhaseOscillating }, "oscillation")

	f.slot.Publish(card("2026-01-02T15:04:05Z"))
	waitFor(t, func() bool { return f.ctrl.Snapshot().CycleCount == 1 }, "first cycle")

	// Re-publishing the identical scan must not eject again.
	f.slot.Publish(card("2026-01-02T15:04:05Z"))
	time.Sleep(50 * time.Millisecond)
	if got := f.ctrl.Snapshot().CycleCount; got != 1 {
		t.Fatalf("identical scan timestamp re-triggered ejection, cycles=%d", got)
	}

	f.slot.Publish(card("2026-01-02T15:04:06Z"))
	waitFor(t, func() bool { return f.ctrl.Snapshot().CycleCount == 2 }, "second cycle")
}

func TestScanBeforeStartIsNotMistakenForNew(t *testing.T) {
	f := newFixture(t, fastConfig())
	f.sim.SetBeam(beamPin, true)
	f.slot.Publish(card("2026-01-02T15:00:00Z"))

	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return f.ctrl.Snapshot().OscillationCount > 2 }, "several passes")
	if got := f.ctrl.Snapshot().CycleCount; got != 0 {
		t.Fatalf("pre-run scan must not trigger ejection, cycles=%d", got)
	}

	f.slot.Publish(card("2026-01-02T15:00:01Z"))
	waitFor(t, func() bool { return f.ctrl.Snapshot().CycleCount == 1 }, "new scan to eject")
}
