package motion

import (
	"sync"
	"time"
)

const DefaultStaleAfter = 3 * time.Second

// Tracker folds decoded samples into a Store. It is the only writer of the
// store's trusted flag; both inbound channels go through ApplySample.
type Tracker struct {
	store      Store
	staleAfter time.Duration

	mu         sync.Mutex
	lastSample time.Time
	lastSource string
	accepted   uint64
	ignored    uint64
}

type TrackerSnapshot struct {
	Trusted       bool     `json:"trusted"`
	InMove        bool     `json:"in_move"`
	Fresh         bool     `json:"fresh"`
	Platform      Position `json:"platform"`
	LastSampleUTC string   `json:"last_sample_utc,omitempty"`
	LastSource    string   `json:"last_source,omitempty"`
	Accepted      uint64   `json:"accepted"`
	Ignored       uint64   `json:"ignored"`
}

func NewTracker(store Store, staleAfter time.Duration) *Tracker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Tracker{store: store, staleAfter: staleAfter}
}

// ApplySample accepts s as authoritative only while the platform is in a
// move. Each axis is written only when its value changed. Outside a move the
// trusted flag is cleared and the position is left alone. The return value
// reports whether the sample was applied.
func (t *Tracker) ApplySample(source string, s Sample, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastSample = now
	t.lastSource = source

	if !IsInMove(t.store) {
		t.store.SetTrusted(false)
		t.ignored++
		return false
	}

	cur := t.store.Platform()
	if s.ElevationMils != cur.Elevation {
		t.store.SetPlatformElevation(s.ElevationMils)
	}
	if s.AzimuthMils != cur.Azimuth {
		t.store.SetPlatformAzimuth(s.AzimuthMils)
	}
	t.store.SetTrusted(true)
	t.accepted++
	return true
}

// Fresh reports whether a sample arrived within the stale window.
func (t *Tracker) Fresh(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.freshLocked(now)
}

func (t *Tracker) freshLocked(now time.Time) bool {
	if t.lastSample.IsZero() {
		return false
	}
	return now.Sub(t.lastSample) < t.staleAfter
}

func (t *Tracker) Snapshot(now time.Time) TrackerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := TrackerSnapshot{
		Trusted:    t.store.Trusted(),
		InMove:     IsInMove(t.store),
		Fresh:      t.freshLocked(now),
		Platform:   t.store.Platform(),
		LastSource: t.lastSource,
		Accepted:   t.accepted,
		Ignored:    t.ignored,
	}
	if !t.lastSample.IsZero() {
		snap.LastSampleUTC = t.lastSample.UTC().Format(time.RFC3339Nano)
	}
	return snap
}
