// Package sim emulates the reference unit for bench testing: a TCP PDI
// server streaming parameter data and a UDP gun-position feed, both driven
// by a deterministic motion profile.
package sim

import (
	"math"
	"time"

	"talin-bridge/internal/motion"
)

// Pose is the unit attitude at an instant, in mils.
type Pose struct {
	AzimuthMils   float64
	ElevationMils float64
	RollMils      float64
}

// Profile yields the pose at a time since the emulator started.
type Profile interface {
	At(elapsed time.Duration) Pose
}

// Sweep traverses the turret back and forth around CenterAzimuthMils while
// nodding the elevation at twice the azimuth rate.
type Sweep struct {
	CenterAzimuthMils float64
	AzimuthSpanMils   float64
	BaseElevationMils float64
	ElevationSpanMils float64
	Period            time.Duration
}

func (s Sweep) At(elapsed time.Duration) Pose {
	period := s.Period
	if period <= 0 {
		period = 20 * time.Second
	}
	azSpan := s.AzimuthSpanMils
	if azSpan == 0 {
		azSpan = 800
	}
	elSpan := s.ElevationSpanMils
	if elSpan == 0 {
		elSpan = 100
	}

	if elapsed < 0 {
		elapsed = 0
	}
	phase := float64(elapsed%period) / float64(period)
	w := 2 * math.Pi * phase

	return Pose{
		AzimuthMils:   wrapMils(s.CenterAzimuthMils + azSpan*math.Sin(w)),
		ElevationMils: s.BaseElevationMils + 0.5*elSpan*math.Sin(2*w),
	}
}

// Fixed holds one pose forever.
type Fixed Pose

func (f Fixed) At(time.Duration) Pose { return Pose(f) }

func wrapMils(x float64) float64 {
	x = math.Mod(x, motion.MilsPerRevolution)
	if x < 0 {
		x += motion.MilsPerRevolution
	}
	return x
}
