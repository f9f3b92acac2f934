package sim

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"talin-bridge/internal/motion"
)

// ScenarioScript is a keyframed pose timeline.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 30s
//	loop: true
//	keyframes:
//	  - t: 0s
//	    azimuth_mils: 6300
//	    elevation_mils: 0
//	  - t: 10s
//	    azimuth_mils: 100
//	    elevation_mils: 250
//
// Keyframes must use non-decreasing t values. Azimuth interpolates along the
// shorter way round the circle.
type ScenarioScript struct {
	Version   int           `yaml:"version"`
	Duration  time.Duration `yaml:"duration"`
	Loop      bool          `yaml:"loop"`
	Keyframes []Keyframe    `yaml:"keyframes"`
}

type Keyframe struct {
	T             time.Duration `yaml:"t"`
	AzimuthMils   float64       `yaml:"azimuth_mils"`
	ElevationMils float64       `yaml:"elevation_mils"`
	RollMils      float64       `yaml:"roll_mils"`
}

// Scenario is the validated runtime form of a script. It implements Profile.
type Scenario struct {
	script   ScenarioScript
	duration time.Duration
}

func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = script.Keyframes[len(script.Keyframes)-1].T
	}
	if dur <= 0 && script.Loop {
		return nil, fmt.Errorf("duration is required for a looping scenario")
	}
	return &Scenario{script: script, duration: dur}, nil
}

func (s *Scenario) Duration() time.Duration {
	return s.duration
}

// At returns the interpolated pose. Looping scenarios wrap elapsed around
// Duration; others hold the last keyframe.
func (s *Scenario) At(elapsed time.Duration) Pose {
	if elapsed < 0 {
		elapsed = 0
	}
	if s.duration > 0 {
		if s.script.Loop {
			elapsed = elapsed % s.duration
		} else if elapsed > s.duration {
			elapsed = s.duration
		}
	}

	k0, k1, alpha := selectSegment(s.script.Keyframes, elapsed)
	return Pose{
		AzimuthMils:   lerpAzimuth(k0.AzimuthMils, k1.AzimuthMils, alpha),
		ElevationMils: lerp(k0.ElevationMils, k1.ElevationMils, alpha),
		RollMils:      lerp(k0.RollMils, k1.RollMils, alpha),
	}
}

func selectSegment(kfs []Keyframe, t time.Duration) (Keyframe, Keyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0, k1 := kfs[idx-1], kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	return k0, k1, min(max(alpha, 0), 1)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func lerpAzimuth(a0, a1, t float64) float64 {
	const half = motion.MilsPerRevolution / 2
	a0, a1 = wrapMils(a0), wrapMils(a1)
	delta := a1 - a0
	if delta > half {
		delta -= motion.MilsPerRevolution
	} else if delta < -half {
		delta += motion.MilsPerRevolution
	}
	return wrapMils(a0 + delta*t)
}
