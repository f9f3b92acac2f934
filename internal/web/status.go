package web

import (
	"sync/atomic"
	"time"

	"talin-bridge/internal/link"
	"talin-bridge/internal/motion"
	"talin-bridge/internal/scheduler"
	"talin-bridge/internal/udp"
)

type TrackerSource interface {
	Snapshot(now time.Time) motion.TrackerSnapshot
}

type LinkSource interface {
	Snapshot() link.Snapshot
}

type ListenerSource interface {
	Snapshot() udp.ListenerSnapshot
}

type SchedulerSource interface {
	Snapshot() scheduler.Snapshot
}

// Sources are the components reported by /api/status. Nil entries are
// omitted from the snapshot.
type Sources struct {
	Store     motion.Store
	Tracker   TrackerSource
	Link      LinkSource
	Listener  ListenerSource
	Scheduler SchedulerSource
}

type Status struct {
	startUnixNano int64
	src           Sources
	talinAddr     atomic.Value // string
	dataRate      atomic.Value // string
}

func NewStatus(src Sources) *Status {
	s := &Status{src: src}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.talinAddr.Store("")
	s.dataRate.Store("")
	return s
}

func (s *Status) SetStatic(talinAddr string, dataRate string) {
	if talinAddr != "" {
		s.talinAddr.Store(talinAddr)
	}
	if dataRate != "" {
		s.dataRate.Store(dataRate)
	}
}

// MotionSnapshot is the shared store as seen by the bridge.
type MotionSnapshot struct {
	Platform      motion.Position `json:"platform"`
	Earth         motion.Position `json:"earth"`
	VehicleYaw    float64         `json:"vehicle_yaw_mils"`
	AzimuthMove   string          `json:"azimuth_move"`
	ElevationMove string          `json:"elevation_move"`
	Trusted       bool            `json:"trusted"`
}

type StatusSnapshot struct {
	Service   string                  `json:"service"`
	NowUTC    string                  `json:"now_utc"`
	UptimeSec int64                   `json:"uptime_sec"`
	TalinAddr string                  `json:"talin_addr"`
	DataRate  string                  `json:"data_rate"`
	Motion    *MotionSnapshot         `json:"motion,omitempty"`
	Tracker   *motion.TrackerSnapshot `json:"tracker,omitempty"`
	Link      *link.Snapshot          `json:"link,omitempty"`
	Listener  *udp.ListenerSnapshot   `json:"udp,omitempty"`
	Scheduler *scheduler.Snapshot     `json:"scheduler,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   "talin-bridge",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		TalinAddr: s.talinAddr.Load().(string),
		DataRate:  s.dataRate.Load().(string),
	}
	if st := s.src.Store; st != nil {
		az, el := st.MoveStatus()
		snap.Motion = &MotionSnapshot{
			Platform:      st.Platform(),
			Earth:         st.Earth(),
			VehicleYaw:    st.VehicleYaw(),
			AzimuthMove:   az.String(),
			ElevationMove: el.String(),
			Trusted:       st.Trusted(),
		}
	}
	if s.src.Tracker != nil {
		v := s.src.Tracker.Snapshot(nowUTC)
		snap.Tracker = &v
	}
	if s.src.Link != nil {
		v := s.src.Link.Snapshot()
		snap.Link = &v
	}
	if s.src.Listener != nil {
		v := s.src.Listener.Snapshot()
		snap.Listener = &v
	}
	if s.src.Scheduler != nil {
		v := s.src.Scheduler.Snapshot()
		snap.Scheduler = &v
	}
	return snap
}
