package udp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"talin-bridge/internal/gunpos"
	"talin-bridge/internal/motion"
)

// SampleSink receives decoded samples. motion.Tracker implements it.
type SampleSink interface {
	ApplySample(source string, s motion.Sample, now time.Time) bool
}

type ListenerConfig struct {
	// Addr is the local bind address, e.g. ":50121".
	Addr string

	// TimestampWindow, when non-zero, drops packets whose timestamp runs
	// backwards or jumps ahead by at least this many milliseconds.
	TimestampWindow uint32
}

// Listener receives the gun position feed.
type Listener struct {
	cfg  ListenerConfig
	conn net.PacketConn
	sink SampleSink
	now  func() time.Time

	warn *rate.Limiter

	closeOnce sync.Once
	closed    chan struct{}

	mu       sync.Mutex
	window   gunpos.Window
	packets  uint64
	dropped  uint64
	lastSeq  uint16
	lastErr  string
	lastSeen time.Time
}

type ListenerSnapshot struct {
	Addr        string `json:"addr"`
	Packets     uint64 `json:"packets"`
	Dropped     uint64 `json:"dropped"`
	LastSeq     uint16 `json:"last_seq"`
	LastError   string `json:"last_error,omitempty"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
}

// Listen binds the feed socket once. Bind errors are returned; everything
// after that is handled inside Run.
func Listen(cfg ListenerConfig, sink SampleSink) (*Listener, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("udp listener addr is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("udp listener sink is nil")
	}
	lc := net.ListenConfig{Control: reuseAddr}
	conn, err := lc.ListenPacket(context.Background(), "udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", cfg.Addr, err)
	}
	return newListener(cfg, conn, sink), nil
}

func newListener(cfg ListenerConfig, conn net.PacketConn, sink SampleSink) *Listener {
	return &Listener{
		cfg:    cfg,
		conn:   conn,
		sink:   sink,
		now:    time.Now,
		warn:   rate.NewLimiter(rate.Every(time.Second), 5),
		closed: make(chan struct{}),
		window: gunpos.Window{Span: cfg.TimestampWindow},
	}
}

func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Run reads datagrams until ctx is cancelled or Close is called.
func (l *Listener) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	buf := make([]byte, 2048)
	for {
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.recordErr(err)
			l.warnf("udp: read error: %v", err)
			continue
		}
		l.handle(buf[:n], addr)
	}
}

func (l *Listener) handle(data []byte, addr net.Addr) {
	now := l.now()

	p, err := gunpos.Decode(data)
	if err != nil {
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		l.recordErr(err)
		l.warnf("udp: invalid gun position packet from %v: %v", addr, err)
		return
	}

	l.mu.Lock()
	l.packets++
	l.lastSeq = p.Sequence
	l.lastSeen = now
	inWindow := l.window.Accept(p.TimestampMs)
	if !inWindow {
		l.dropped++
	}
	l.mu.Unlock()

	if !inWindow {
		l.warnf("udp: gun position ts=%d outside %dms window, dropped", p.TimestampMs, l.cfg.TimestampWindow)
		return
	}

	l.sink.ApplySample("udp", p.Sample(), now)
}

func (l *Listener) Snapshot() ListenerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := ListenerSnapshot{
		Addr:      l.cfg.Addr,
		Packets:   l.packets,
		Dropped:   l.dropped,
		LastSeq:   l.lastSeq,
		LastError: l.lastErr,
	}
	if !l.lastSeen.IsZero() {
		out.LastSeenUTC = l.lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// Close unblocks Run. Safe to call more than once.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.conn.Close()
	})
	return err
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func (l *Listener) recordErr(err error) {
	l.mu.Lock()
	l.lastErr = err.Error()
	l.mu.Unlock()
}

func (l *Listener) warnf(format string, args ...any) {
	if l.warn.Allow() {
		log.Printf(format, args...)
	}
}
