// Package gpio abstracts the digital lines the sorter drives and reads.
// Two implementations exist: Sim for development machines and RPIO for the
// Raspberry Pi deployment.
package gpio

// Chip is a set of digital lines addressed by BCM pin number.
type Chip interface {
	SetupOutput(pin int)
	SetupInputPullUp(pin int)
	// Write drives an output line high or low.
	Write(pin int, high bool)
	// Read reports whether an input line is high. Beam sensors are wired
	// active-low: a blocked beam reads low.
	Read(pin int) bool
	Close() error
}
