package gpio

import "sync"

// Sim is an in-memory Chip for machines without GPIO hardware. Output lines
// remember the last written level; input lines float high unless a beam has
// been marked blocked, matching the pull-up wiring of the real sensors.
type Sim struct {
	mu    sync.Mutex
	pins  map[int]bool
	beams map[int]bool
}

func NewSim() *Sim {
	return &Sim{
		pins:  map[int]bool{},
		beams: map[int]bool{},
	}
}

func (s *Sim) SetupOutput(pin int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[pin] = false
}

func (s *Sim) SetupInputPullUp(pin int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[pin] = true
}

func (s *Sim) Write(pin int, high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[pin] = high
}

func (s *Sim) Read(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if blocked, ok := s.beams[pin]; ok {
		return !blocked
	}
	return true
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins = map[int]bool{}
	s.beams = map[int]bool{}
	return nil
}

// SetBeam marks a beam sensor line as blocked (reads low) or clear.
func (s *Sim) SetBeam(pin int, blocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beams[pin] = blocked
}
