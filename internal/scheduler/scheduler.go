package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"talin-bridge/internal/gunpos"
	"talin-bridge/internal/motion"
)

// DefaultPeriod is 40 Hz.
const DefaultPeriod = 25 * time.Millisecond

// Sender delivers the outbound position command. udp.Broadcaster implements it.
type Sender interface {
	Send(payload []byte) error
}

// Notifier forwards the commanded gun position to a co-located process.
// Returning false means the receiver is gone; it is not called again.
type Notifier interface {
	Notify(azimuthMils, elevationMils float64) bool
}

// Indicator mirrors the trusted flag on an external output.
type Indicator interface {
	Set(on bool) error
}

// Ticker is driven once per cycle. link.Link implements it.
type Ticker interface {
	Tick(now time.Time)
}

type Config struct {
	Period time.Duration
}

type Deps struct {
	Store     motion.Store
	Sender    Sender
	Link      Ticker
	Notifier  Notifier
	Indicator Indicator
}

type Scheduler struct {
	cfg       Config
	store     motion.Store
	sender    Sender
	link      Ticker
	indicator Indicator
	now       func() time.Time

	pending atomic.Bool

	mu            sync.Mutex
	notifier      Notifier
	indicatorOn   bool
	indicatorSet  bool
	ticks         uint64
	sent          uint64
	sendErrors    uint64
	notifications uint64
	lastErr       string
	lastTick      time.Time
}

type Snapshot struct {
	Period        string `json:"period"`
	Pending       bool   `json:"pending"`
	Ticks         uint64 `json:"ticks"`
	Sent          uint64 `json:"commands_sent"`
	SendErrors    uint64 `json:"send_errors"`
	Notifications uint64 `json:"notifications"`
	NotifierOK    bool   `json:"notifier_attached"`
	LastError     string `json:"last_error,omitempty"`
	LastTickUTC   string `json:"last_tick_utc,omitempty"`
}

func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("scheduler store is nil")
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	return &Scheduler{
		cfg:       cfg,
		store:     deps.Store,
		sender:    deps.Sender,
		link:      deps.Link,
		indicator: deps.Indicator,
		notifier:  deps.Notifier,
		now:       time.Now,
	}, nil
}

// TriggerUpdate asks the next tick to send the commanded position. It does
// nothing once trusted data has been received, so the bridge never fights
// the reference unit's own feed.
func (s *Scheduler) TriggerUpdate() {
	if s.store.Trusted() {
		return
	}
	s.pending.Store(true)
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.Tick(s.now())
		}
	}
}

// Tick runs one cycle. None of the steps depend on each other's outcome.
func (s *Scheduler) Tick(now time.Time) {
	s.sendPending()
	s.notify()
	s.updateIndicator()
	if s.link != nil {
		s.link.Tick(now)
	}

	s.mu.Lock()
	s.ticks++
	s.lastTick = now
	s.mu.Unlock()
}

func (s *Scheduler) sendPending() {
	if !s.pending.Swap(false) || s.store.Trusted() || s.sender == nil {
		return
	}

	earth := s.store.Earth()
	az := motion.CommandedAzimuth(earth.Azimuth, s.store.VehicleYaw())
	err := s.sender.Send(gunpos.EncodeCommand(az, earth.Elevation))

	s.mu.Lock()
	if err != nil {
		s.sendErrors++
		s.lastErr = err.Error()
	} else {
		s.sent++
	}
	s.mu.Unlock()

	if err != nil {
		log.Printf("scheduler: position command send failed: %v", err)
	}
}

func (s *Scheduler) notify() {
	s.mu.Lock()
	n := s.notifier
	s.mu.Unlock()
	if n == nil {
		return
	}

	earth := s.store.Earth()
	ok := n.Notify(earth.Azimuth, earth.Elevation)

	s.mu.Lock()
	if ok {
		s.notifications++
	} else if s.notifier == n {
		s.notifier = nil
	}
	s.mu.Unlock()

	if !ok {
		log.Printf("scheduler: notifier rejected update, detaching")
	}
}

func (s *Scheduler) updateIndicator() {
	if s.indicator == nil {
		return
	}
	on := s.store.Trusted()

	s.mu.Lock()
	changed := !s.indicatorSet || s.indicatorOn != on
	s.mu.Unlock()
	if !changed {
		return
	}

	if err := s.indicator.Set(on); err != nil {
		log.Printf("scheduler: indicator set %v failed: %v", on, err)
		return
	}
	s.mu.Lock()
	s.indicatorOn = on
	s.indicatorSet = true
	s.mu.Unlock()
}

// AttachNotifier replaces the notification sink, e.g. after the co-located
// process restarts.
func (s *Scheduler) AttachNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{
		Period:        s.cfg.Period.String(),
		Pending:       s.pending.Load(),
		Ticks:         s.ticks,
		Sent:          s.sent,
		SendErrors:    s.sendErrors,
		Notifications: s.notifications,
		NotifierOK:    s.notifier != nil,
		LastError:     s.lastErr,
	}
	if !s.lastTick.IsZero() {
		out.LastTickUTC = s.lastTick.UTC().Format(time.RFC3339Nano)
	}
	return out
}
