package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"talin-bridge/internal/pdi"
)

type UnitConfig struct {
	Addr    string
	Profile Profile

	// WriteTimeout bounds each streamed frame; a stuck client is dropped.
	WriteTimeout time.Duration
}

// Unit answers parameter data requests the way the reference unit does:
// after a setup message (8050) asking for 9200 it streams parameter data
// frames at the requested rate until the connection closes or a new request
// changes the rate.
type Unit struct {
	cfg   UnitConfig
	ln    net.Listener
	start time.Time

	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	connections atomic.Uint64
	requests    atomic.Uint64
	frames      atomic.Uint64
}

type UnitStats struct {
	Connections uint64 `json:"connections"`
	Requests    uint64 `json:"requests"`
	Frames      uint64 `json:"frames"`
}

func ListenUnit(cfg UnitConfig) (*Unit, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("sim unit addr is required")
	}
	if cfg.Profile == nil {
		cfg.Profile = Sweep{}
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = time.Second
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	return &Unit{
		cfg:   cfg,
		ln:    ln,
		start: time.Now(),
		conns: make(map[net.Conn]struct{}),
	}, nil
}

func (u *Unit) Addr() net.Addr {
	return u.ln.Addr()
}

// Serve accepts clients until ctx is cancelled or Close is called.
func (u *Unit) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = u.Close() })
	defer stop()

	for {
		conn, err := u.ln.Accept()
		if err != nil {
			if u.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		u.mu.Lock()
		if u.closed.Load() {
			u.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		u.conns[conn] = struct{}{}
		u.wg.Add(1)
		u.mu.Unlock()

		u.connections.Add(1)
		go func() {
			defer u.wg.Done()
			u.serveConn(conn)
		}()
	}
}

func (u *Unit) serveConn(conn net.Conn) {
	defer func() {
		u.mu.Lock()
		delete(u.conns, conn)
		u.mu.Unlock()
		_ = conn.Close()
	}()
	log.Printf("sim: client %s connected", conn.RemoteAddr())

	reqs := make(chan pdi.DataRate, 1)
	done := make(chan struct{})
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		defer close(done)
		r := pdi.NewReader(conn)
		for {
			frame, err := r.Next()
			if err != nil {
				if errors.Is(err, pdi.ErrMalformedFrame) {
					continue
				}
				return
			}
			_, msgID, rate, err := pdi.DecodeParameterRequest(frame)
			if err != nil || msgID != pdi.MsgIDParameterData || rate.Interval() <= 0 {
				log.Printf("sim: ignoring request from %s (id=%d rate=%v err=%v)", conn.RemoteAddr(), msgID, rate, err)
				continue
			}
			u.requests.Add(1)
			select {
			case reqs <- rate:
			case <-quit:
				return
			}
		}
	}()

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
		seq    uint32
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-done:
			return
		case rate := <-reqs:
			if ticker != nil {
				ticker.Stop()
			}
			ticker = time.NewTicker(rate.Interval())
			tick = ticker.C
		case <-tick:
			pose := u.cfg.Profile.At(time.Since(u.start))
			frame := pdi.EncodeParameterData(seq, pdi.MilsToRadians(pose.ElevationMils), pdi.MilsToRadians(pose.AzimuthMils))
			seq++
			_ = conn.SetWriteDeadline(time.Now().Add(u.cfg.WriteTimeout))
			if _, err := conn.Write(frame); err != nil {
				log.Printf("sim: client %s dropped: %v", conn.RemoteAddr(), err)
				return
			}
			u.frames.Add(1)
		}
	}
}

// Close stops accepting, drops every client and waits for their goroutines.
func (u *Unit) Close() error {
	var err error
	u.closeOnce.Do(func() {
		u.mu.Lock()
		u.closed.Store(true)
		u.mu.Unlock()
		err = u.ln.Close()
		u.mu.Lock()
		for c := range u.conns {
			_ = c.Close()
		}
		u.mu.Unlock()
		u.wg.Wait()
	})
	return err
}

func (u *Unit) Stats() UnitStats {
	return UnitStats{
		Connections: u.connections.Load(),
		Requests:    u.requests.Load(),
		Frames:      u.frames.Load(),
	}
}
