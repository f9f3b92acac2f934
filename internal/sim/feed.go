package sim

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"talin-bridge/internal/gunpos"
	"talin-bridge/internal/udp"
)

const DefaultFeedInterval = 20 * time.Millisecond

type FeedConfig struct {
	Dest     string
	Interval time.Duration
	Profile  Profile
	DSCP     int
}

// Feed sends 20-byte gun position datagrams to the bridge.
type Feed struct {
	cfg   FeedConfig
	out   *udp.Broadcaster
	start time.Time

	seq  uint16
	sent atomic.Uint64
	errs atomic.Uint64
}

func NewFeed(cfg FeedConfig) (*Feed, error) {
	if cfg.Dest == "" {
		return nil, fmt.Errorf("sim feed dest is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFeedInterval
	}
	if cfg.Profile == nil {
		cfg.Profile = Sweep{}
	}
	out, err := udp.NewBroadcaster(cfg.Dest, cfg.DSCP)
	if err != nil {
		return nil, err
	}
	return &Feed{cfg: cfg, out: out, start: time.Now()}, nil
}

// Packet builds the next datagram for elapsed time since the feed started.
// Not safe for concurrent use; Run is the only caller outside tests.
func (f *Feed) Packet(elapsed time.Duration) gunpos.Packet {
	pose := f.cfg.Profile.At(elapsed)
	p := gunpos.Packet{
		Sequence:    f.seq,
		Validity:    1,
		TimestampMs: uint32(elapsed / time.Millisecond),
		AzimuthMils: float32(pose.AzimuthMils),
		PitchMils:   float32(pose.ElevationMils),
		Roll:        float32(pose.RollMils),
	}
	f.seq++
	return p
}

func (f *Feed) Run(ctx context.Context) error {
	t := time.NewTicker(f.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			pkt := f.Packet(time.Since(f.start))
			if err := f.out.Send(gunpos.Encode(pkt)); err != nil {
				if f.errs.Add(1) == 1 {
					log.Printf("sim: feed send to %s failed: %v", f.out.Dest(), err)
				}
				continue
			}
			f.sent.Add(1)
		}
	}
}

func (f *Feed) Sent() uint64 {
	return f.sent.Load()
}

func (f *Feed) Close() error {
	return f.out.Close()
}
