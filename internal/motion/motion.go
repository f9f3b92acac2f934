package motion

import "fmt"

// MilsPerRevolution is the angular unit used throughout the bridge.
const MilsPerRevolution = 6400.0

type MoveStatus int

const (
	Idle MoveStatus = iota
	Stopped
	MovingToTarget
	MovingToStow
	MovingByJoystick
	Stopping
)

func (s MoveStatus) String() string {
	switch s {
	case Idle:
		return "idle"
	case Stopped:
		return "stopped"
	case MovingToTarget:
		return "moving_to_target"
	case MovingToStow:
		return "moving_to_stow"
	case MovingByJoystick:
		return "moving_by_joystick"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("move_status(%d)", int(s))
	}
}

// InMove reports whether an axis in this status is actively driven.
func (s MoveStatus) InMove() bool {
	switch s {
	case MovingToTarget, MovingToStow, MovingByJoystick, Stopping:
		return true
	default:
		return false
	}
}

// Position is an azimuth/elevation pair in mils.
type Position struct {
	Azimuth   float64 `json:"azimuth_mils"`
	Elevation float64 `json:"elevation_mils"`
}

// Sample is one decoded attitude reading from either inbound channel,
// already converted to mils.
type Sample struct {
	AzimuthMils     float64
	ElevationMils   float64
	SourceTimestamp *uint32
}

// Store is the slice of the motion-control core's state the bridge needs.
// Implementations must be safe for concurrent use.
type Store interface {
	MoveStatus() (azimuth, elevation MoveStatus)

	Platform() Position
	SetPlatformAzimuth(mils float64)
	SetPlatformElevation(mils float64)

	// Earth is the commanded gun position in earth coordinates.
	Earth() Position
	VehicleYaw() float64

	Trusted() bool
	SetTrusted(trusted bool)
}

// IsInMove is true when either axis is moving to target, moving to stow,
// moving by joystick, or stopping.
func IsInMove(s Store) bool {
	if s == nil {
		return false
	}
	az, el := s.MoveStatus()
	return az.InMove() || el.InMove()
}

// CommandedAzimuth returns the vehicle-relative azimuth sent to the
// reference unit, normalised to [0, 6400).
func CommandedAzimuth(earthAzimuth, vehicleYaw float64) float64 {
	az := earthAzimuth - vehicleYaw + 1.5*MilsPerRevolution
	for az < 0 {
		az += MilsPerRevolution
	}
	for az >= MilsPerRevolution {
		az -= MilsPerRevolution
	}
	return az
}
