// Package indicator drives a "trusted data" lamp on a GPIO output.
package indicator

import (
	"fmt"
	"sync"
)

// line is the digital output behind a Lamp.
type line interface {
	SetValue(v int) error
	Close() error
}

// Lamp mirrors a boolean onto a GPIO line. A Lamp opened with pin <= 0 is
// disabled and only remembers the last value.
type Lamp struct {
	pin int

	mu   sync.Mutex
	line line
	on   bool
}

func Open(pin int) (*Lamp, error) {
	if pin <= 0 {
		return &Lamp{}, nil
	}
	l, err := openLineFn(pin)
	if err != nil {
		return nil, err
	}
	return &Lamp{pin: pin, line: l}, nil
}

func (l *Lamp) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.line != nil
}

func (l *Lamp) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

func (l *Lamp) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = on
	if l.line == nil {
		return nil
	}
	v := 0
	if on {
		v = 1
	}
	if err := l.line.SetValue(v); err != nil {
		return fmt.Errorf("indicator: gpio %d set %d: %w", l.pin, v, err)
	}
	return nil
}

// Close turns the lamp off and releases the line.
func (l *Lamp) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.line == nil {
		return nil
	}
	_ = l.line.SetValue(0)
	err := l.line.Close()
	l.line = nil
	l.on = false
	return err
}
