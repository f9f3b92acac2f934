package motion

import "sync"

// State is an in-process Store. The motion-control core owns it and updates
// move status and commanded position; the bridge writes the platform
// position and the trusted flag.
type State struct {
	mu sync.RWMutex

	azStatus MoveStatus
	elStatus MoveStatus
	platform Position
	earth    Position
	yaw      float64
	trusted  bool
}

func NewState() *State {
	return &State{}
}

func (s *State) MoveStatus() (azimuth, elevation MoveStatus) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.azStatus, s.elStatus
}

func (s *State) SetMoveStatus(azimuth, elevation MoveStatus) {
	s.mu.Lock()
	s.azStatus = azimuth
	s.elStatus = elevation
	s.mu.Unlock()
}

func (s *State) Platform() Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.platform
}

func (s *State) SetPlatformAzimuth(mils float64) {
	s.mu.Lock()
	s.platform.Azimuth = mils
	s.mu.Unlock()
}

func (s *State) SetPlatformElevation(mils float64) {
	s.mu.Lock()
	s.platform.Elevation = mils
	s.mu.Unlock()
}

func (s *State) Earth() Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.earth
}

func (s *State) SetEarth(p Position) {
	s.mu.Lock()
	s.earth = p
	s.mu.Unlock()
}

func (s *State) VehicleYaw() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.yaw
}

func (s *State) SetVehicleYaw(mils float64) {
	s.mu.Lock()
	s.yaw = mils
	s.mu.Unlock()
}

func (s *State) Trusted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trusted
}

func (s *State) SetTrusted(trusted bool) {
	s.mu.Lock()
	s.trusted = trusted
	s.mu.Unlock()
}
