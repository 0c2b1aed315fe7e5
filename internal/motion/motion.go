// Package motion provides the pulse driver and the two interruptible motion
// primitives the sequence controller is built on. Cancellation and scan
// detection are polled between pulses, so a request is observed within one
// pulse interval.
package motion

import (
	"time"

	"github.com/cardsort/sorterd/internal/gpio"
)

// Direction selects which way the stepper turns.
type Direction int

const (
	Forward Direction = 1
	Reverse Direction = -1
)

// Outcome tags how a motion primitive ended.
type Outcome int

const (
	// Completed: StepN emitted every requested pulse.
	Completed Outcome = iota
	// Aborted: the abort predicate fired before the motion finished.
	Aborted
	// ScanDetected: the scan-watch predicate fired during StepN.
	ScanDetected
	// Tripped: RunUntilSensor saw the sensor trip.
	Tripped
	// CeilingReached: RunUntilSensor emitted the step ceiling without a
	// trip. This is a sensor fault, not a voluntary stop.
	CeilingReached
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	case ScanDetected:
		return "scan_detected"
	case Tripped:
		return "tripped"
	case CeilingReached:
		return "ceiling_reached"
	default:
		return "unknown"
	}
}

// Result is a primitive's outcome plus the pulses emitted before it ended.
type Result struct {
	Outcome Outcome
	Steps   int
}

// Driver owns one stepper's step/dir line pair. PulseHold is the hold after
// each edge of a step pulse; time.Sleep keeps it on the monotonic clock, so
// work elsewhere in the process does not stretch the pulse train.
type Driver struct {
	chip      gpio.Chip
	stepPin   int
	dirPin    int
	pulseHold time.Duration
}

func NewDriver(chip gpio.Chip, stepPin, dirPin int, pulseHold time.Duration) *Driver {
	chip.SetupOutput(stepPin)
	chip.SetupOutput(dirPin)
	return &Driver{chip: chip, stepPin: stepPin, dirPin: dirPin, pulseHold: pulseHold}
}

func (d *Driver) setDirection(dir Direction) {
	d.chip.Write(d.dirPin, dir == Forward)
}

// Pulse emits one step: assert, hold, deassert, hold.
func (d *Driver) Pulse() {
	d.chip.Write(d.stepPin, true)
	time.Sleep(d.pulseHold)
	d.chip.Write(d.stepPin, false)
	time.Sleep(d.pulseHold)
}

// StepN emits up to count pulses in the given direction. Before every pulse
// it polls abort, then scanWatch (when non-nil). Abort wins over scan
// detection when both are pending.
func (d *Driver) StepN(dir Direction, count int, abort func() bool, scanWatch func() bool) Result {
	d.setDirection(dir)
	taken := 0
	for i := 0; i < count; i++ {
		if abort != nil && abort() {
			return Result{Outcome: Aborted, Steps: taken}
		}
		if scanWatch != nil && scanWatch() {
			return Result{Outcome: ScanDetected, Steps: taken}
		}
		d.Pulse()
		taken++
	}
	return Result{Outcome: Completed, Steps: taken}
}

// RunUntilSensor pulses in the given direction until the sensor predicate
// trips, abort fires, or ceiling pulses have been emitted without a trip.
// The sensor is checked before each pulse, so a sensor that is already
// tripped costs zero steps.
func (d *Driver) RunUntilSensor(dir Direction, tripped func() bool, abort func() bool, ceiling int) Result {
	d.setDirection(dir)
	taken := 0
	for i := 0; i < ceiling; i++ {
		if abort != nil && abort() {
			return Result{Outcome: Aborted, Steps: taken}
		}
		if tripped() {
			return Result{Outcome: Tripped, Steps: taken}
		}
		d.Pulse()
		taken++
	}
	return Result{Outcome: CeilingReached, Steps: taken}
}
