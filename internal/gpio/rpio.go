package gpio

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"
)

// RPIO drives the Raspberry Pi's GPIO header through /dev/gpiomem.
type RPIO struct{}

func OpenRPIO() (*RPIO, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}
	return &RPIO{}, nil
}

func (r *RPIO) SetupOutput(pin int) {
	p := rpio.Pin(pin)
	p.Output()
	p.Low()
}

func (r *RPIO) SetupInputPullUp(pin int) {
	p := rpio.Pin(pin)
	p.Input()
	p.PullUp()
}

func (r *RPIO) Write(pin int, high bool) {
	if high {
		rpio.Pin(pin).High()
	} else {
		rpio.Pin(pin).Low()
	}
}

func (r *RPIO) Read(pin int) bool {
	return rpio.Pin(pin).Read() == rpio.High
}

func (r *RPIO) Close() error {
	return rpio.Close()
}
