package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"talin-bridge/internal/gunpos"
	"talin-bridge/internal/motion"
)

type fakeSender struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
}

func (f *fakeSender) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type fakeTicker struct {
	mu    sync.Mutex
	ticks []time.Time
}

func (f *fakeTicker) Tick(now time.Time) {
	f.mu.Lock()
	f.ticks = append(f.ticks, now)
	f.mu.Unlock()
}

func (f *fakeTicker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ticks)
}

type fakeNotifier struct {
	calls int
	ok    bool
	az    float64
	el    float64
}

func (f *fakeNotifier) Notify(az, el float64) bool {
	f.calls++
	f.az, f.el = az, el
	return f.ok
}

type fakeIndicator struct {
	values []bool
}

func (f *fakeIndicator) Set(on bool) error {
	f.values = append(f.values, on)
	return nil
}

func newTestScheduler(t *testing.T, deps Deps) *Scheduler {
	t.Helper()
	s, err := New(Config{}, deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func TestTriggerUpdate_SendsExactlyOneCommand(t *testing.T) {
	st := motion.NewState()
	st.SetEarth(motion.Position{Azimuth: 1200, Elevation: 300.5})
	st.SetVehicleYaw(400)
	sender := &fakeSender{}
	s := newTestScheduler(t, Deps{Store: st, Sender: sender})

	s.Tick(time.Unix(1, 0))
	if n := sender.count(); n != 0 {
		t.Fatalf("sent=%d before trigger, want 0", n)
	}

	s.TriggerUpdate()
	s.Tick(time.Unix(2, 0))
	s.Tick(time.Unix(3, 0))
	if n := sender.count(); n != 1 {
		t.Fatalf("sent=%d want 1", n)
	}

	az, el, err := gunpos.DecodeCommand(sender.writes[0])
	if err != nil {
		t.Fatalf("DecodeCommand() error: %v", err)
	}
	// (1200 - 400 + 9600) mod 6400
	if az != 4000 || el != 300.5 {
		t.Fatalf("az=%v el=%v want 4000/300.5", az, el)
	}
	if s.Snapshot().Pending {
		t.Fatalf("pending must be cleared")
	}
}

func TestTriggerUpdate_SendErrorClearsPending(t *testing.T) {
	st := motion.NewState()
	sender := &fakeSender{err: errors.New("network unreachable")}
	s := newTestScheduler(t, Deps{Store: st, Sender: sender})

	s.TriggerUpdate()
	s.Tick(time.Unix(1, 0))
	s.Tick(time.Unix(2, 0))

	if n := sender.count(); n != 1 {
		t.Fatalf("send attempts=%d want 1", n)
	}
	snap := s.Snapshot()
	if snap.Pending || snap.SendErrors != 1 || snap.Sent != 0 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.LastError != "network unreachable" {
		t.Fatalf("last_error=%q", snap.LastError)
	}
}

func TestTriggerUpdate_NoOpOnceTrusted(t *testing.T) {
	st := motion.NewState()
	st.SetTrusted(true)
	sender := &fakeSender{}
	s := newTestScheduler(t, Deps{Store: st, Sender: sender})

	s.TriggerUpdate()
	if s.Snapshot().Pending {
		t.Fatalf("trigger must be ignored while trusted")
	}
	s.Tick(time.Unix(1, 0))
	if n := sender.count(); n != 0 {
		t.Fatalf("sent=%d want 0", n)
	}
}

func TestTick_PendingDroppedIfTrustedBeforeTick(t *testing.T) {
	st := motion.NewState()
	sender := &fakeSender{}
	s := newTestScheduler(t, Deps{Store: st, Sender: sender})

	s.TriggerUpdate()
	st.SetTrusted(true)
	s.Tick(time.Unix(1, 0))
	if n := sender.count(); n != 0 {
		t.Fatalf("sent=%d want 0", n)
	}
	if s.Snapshot().Pending {
		t.Fatalf("pending must be cleared")
	}
}

func TestTick_NotifierDetachedOnFailure(t *testing.T) {
	st := motion.NewState()
	st.SetEarth(motion.Position{Azimuth: 100, Elevation: 50})
	n := &fakeNotifier{ok: true}
	ticker := &fakeTicker{}
	s := newTestScheduler(t, Deps{Store: st, Notifier: n, Link: ticker})

	s.Tick(time.Unix(1, 0))
	if n.calls != 1 || n.az != 100 || n.el != 50 {
		t.Fatalf("notifier=%+v", n)
	}

	n.ok = false
	s.Tick(time.Unix(2, 0))
	s.Tick(time.Unix(3, 0))
	if n.calls != 2 {
		t.Fatalf("calls=%d want 2 (detached after failure)", n.calls)
	}
	if s.Snapshot().NotifierOK {
		t.Fatalf("notifier should be detached")
	}
	// The rest of the tick still ran.
	if got := ticker.count(); got != 3 {
		t.Fatalf("link ticks=%d want 3", got)
	}

	n.ok = true
	s.AttachNotifier(n)
	s.Tick(time.Unix(4, 0))
	if n.calls != 3 {
		t.Fatalf("calls=%d want 3 after reattach", n.calls)
	}
}

func TestTick_DrivesLinkWithNow(t *testing.T) {
	ticker := &fakeTicker{}
	s := newTestScheduler(t, Deps{Store: motion.NewState(), Link: ticker})

	now := time.Unix(42, 0)
	s.Tick(now)
	if ticker.count() != 1 || !ticker.ticks[0].Equal(now) {
		t.Fatalf("ticks=%v", ticker.ticks)
	}
}

func TestTick_IndicatorFollowsTrustedOnChange(t *testing.T) {
	st := motion.NewState()
	ind := &fakeIndicator{}
	s := newTestScheduler(t, Deps{Store: st, Indicator: ind})

	s.Tick(time.Unix(1, 0))
	s.Tick(time.Unix(2, 0))
	st.SetTrusted(true)
	s.Tick(time.Unix(3, 0))
	s.Tick(time.Unix(4, 0))
	st.SetTrusted(false)
	s.Tick(time.Unix(5, 0))

	want := []bool{false, true, false}
	if len(ind.values) != len(want) {
		t.Fatalf("values=%v want %v", ind.values, want)
	}
	for i := range want {
		if ind.values[i] != want[i] {
			t.Fatalf("values=%v want %v", ind.values, want)
		}
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	ticker := &fakeTicker{}
	s, err := New(Config{Period: 2 * time.Millisecond}, Deps{Store: motion.NewState(), Link: ticker})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for ticker.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if ticker.count() < 3 {
		t.Fatalf("ticks=%d want >=3", ticker.count())
	}
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatalf("expected error")
	}
}
