package motion

import (
	"math"
	"sync"
	"testing"
	"time"
)

var allStatuses = []MoveStatus{Idle, Stopped, MovingToTarget, MovingToStow, MovingByJoystick, Stopping}

func TestIsInMove_TruthTable(t *testing.T) {
	moving := map[MoveStatus]bool{
		MovingToTarget:   true,
		MovingToStow:     true,
		MovingByJoystick: true,
		Stopping:         true,
	}
	st := NewState()
	for _, az := range allStatuses {
		for _, el := range allStatuses {
			st.SetMoveStatus(az, el)
			want := moving[az] || moving[el]
			if got := IsInMove(st); got != want {
				t.Fatalf("az=%s el=%s got=%v want=%v", az, el, got, want)
			}
		}
	}
	if IsInMove(nil) {
		t.Fatalf("nil store must not be in move")
	}
}

func TestCommandedAzimuth(t *testing.T) {
	cases := []struct {
		earth, yaw, want float64
	}{
		{earth: 0, yaw: 0, want: 3200},
		{earth: 3200, yaw: 0, want: 0},
		{earth: 1000, yaw: 6000, want: 4600},
		{earth: -7000, yaw: 10000, want: 5400},
	}
	for _, tc := range cases {
		if got := CommandedAzimuth(tc.earth, tc.yaw); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("earth=%v yaw=%v got=%v want=%v", tc.earth, tc.yaw, got, tc.want)
		}
	}
}

// countingStore records writes so tests can assert on redundant updates.
type countingStore struct {
	*State
	azWrites int
	elWrites int
}

func (c *countingStore) SetPlatformAzimuth(mils float64) {
	c.azWrites++
	c.State.SetPlatformAzimuth(mils)
}

func (c *countingStore) SetPlatformElevation(mils float64) {
	c.elWrites++
	c.State.SetPlatformElevation(mils)
}

func TestTracker_ApplySample_InMove(t *testing.T) {
	st := &countingStore{State: NewState()}
	st.SetMoveStatus(MovingToTarget, Idle)
	tr := NewTracker(st, 0)
	now := time.Unix(1000, 0)

	if !tr.ApplySample("tcp", Sample{AzimuthMils: 1600, ElevationMils: 800}, now) {
		t.Fatalf("expected sample applied")
	}
	if p := st.Platform(); p.Azimuth != 1600 || p.Elevation != 800 {
		t.Fatalf("platform=%+v", p)
	}
	if !st.Trusted() {
		t.Fatalf("expected trusted")
	}

	// Same values again: no redundant writes.
	tr.ApplySample("udp", Sample{AzimuthMils: 1600, ElevationMils: 800}, now)
	if st.azWrites != 1 || st.elWrites != 1 {
		t.Fatalf("writes az=%d el=%d want 1/1", st.azWrites, st.elWrites)
	}

	tr.ApplySample("udp", Sample{AzimuthMils: 1600, ElevationMils: 801}, now)
	if st.azWrites != 1 || st.elWrites != 2 {
		t.Fatalf("writes az=%d el=%d want 1/2", st.azWrites, st.elWrites)
	}
}

func TestTracker_ApplySample_NotInMove(t *testing.T) {
	st := NewState()
	st.SetTrusted(true)
	st.SetPlatformAzimuth(10)
	st.SetPlatformElevation(20)
	st.SetMoveStatus(Stopped, Idle)
	tr := NewTracker(st, 0)

	if tr.ApplySample("tcp", Sample{AzimuthMils: 1600, ElevationMils: 800}, time.Unix(1, 0)) {
		t.Fatalf("expected sample ignored")
	}
	if st.Trusted() {
		t.Fatalf("trusted must be cleared outside a move")
	}
	if p := st.Platform(); p.Azimuth != 10 || p.Elevation != 20 {
		t.Fatalf("platform changed: %+v", p)
	}

	snap := tr.Snapshot(time.Unix(2, 0))
	if snap.Ignored != 1 || snap.Accepted != 0 || snap.LastSource != "tcp" {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestTracker_Freshness(t *testing.T) {
	st := NewState()
	tr := NewTracker(st, 3*time.Second)
	t0 := time.Unix(500, 0)

	if tr.Fresh(t0) {
		t.Fatalf("no samples yet, must not be fresh")
	}
	tr.ApplySample("udp", Sample{}, t0)
	if !tr.Fresh(t0.Add(2999 * time.Millisecond)) {
		t.Fatalf("expected fresh inside window")
	}
	if tr.Fresh(t0.Add(3 * time.Second)) {
		t.Fatalf("expected stale at window")
	}
}

func TestTracker_ConcurrentApply(t *testing.T) {
	st := NewState()
	st.SetMoveStatus(MovingByJoystick, MovingByJoystick)
	tr := NewTracker(st, 0)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				tr.ApplySample("x", Sample{AzimuthMils: float64(g*1000 + i), ElevationMils: float64(i)}, time.Now())
			}
		}(g)
	}
	wg.Wait()

	if snap := tr.Snapshot(time.Now()); snap.Accepted != 800 || !snap.Trusted {
		t.Fatalf("snapshot=%+v", snap)
	}
}
