// Package link drives the TCP PDI connection to the reference unit.
//
// The link does no timing of its own. The scheduler calls Tick on every
// cycle; Tick starts a connect attempt or re-requests parameter data once the
// retry cool-down has run out, and never blocks on the network.
package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"talin-bridge/internal/motion"
	"talin-bridge/internal/pdi"
)

const DefaultRetryInterval = 3 * time.Second

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SampleSink receives decoded parameter data. motion.Tracker implements it.
type SampleSink interface {
	ApplySample(source string, s motion.Sample, now time.Time) bool
}

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type Config struct {
	Addr string
	Rate pdi.DataRate

	// RetryInterval gates both reconnects and parameter re-requests.
	RetryInterval time.Duration
	DialTimeout   time.Duration
	WriteTimeout  time.Duration

	// ValidateCRC drops inbound frames whose footer CRC does not match.
	ValidateCRC bool
}

type Link struct {
	cfg  Config
	sink SampleSink
	dial DialFunc
	now  func() time.Time
	warn *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once

	mu        sync.Mutex
	state     State
	conn      net.Conn
	session   string
	closed    bool
	retry     time.Time
	seq       uint32
	attempts  uint64
	requests  uint64
	frames    uint64
	malformed uint64
	lastErr   string
	lastFrame time.Time
}

type Snapshot struct {
	Addr         string `json:"addr"`
	State        string `json:"state"`
	Session      string `json:"session,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	Attempts     uint64 `json:"connect_attempts"`
	Requests     uint64 `json:"requests"`
	Frames       uint64 `json:"frames"`
	Malformed    uint64 `json:"malformed"`
	NextSeq      uint32 `json:"next_seq"`
	LastFrameUTC string `json:"last_frame_utc,omitempty"`
}

func New(cfg Config, sink SampleSink) (*Link, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("link addr is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("link sink is nil")
	}
	if cfg.Rate == 0 {
		cfg.Rate = pdi.Rate150Hz
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &net.Dialer{}
	return &Link{
		cfg:    cfg,
		sink:   sink,
		dial:   d.DialContext,
		now:    time.Now,
		warn:   rate.NewLimiter(rate.Every(time.Second), 5),
		ctx:    ctx,
		cancel: cancel,
		state:  Disconnected,
	}, nil
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Tick runs one cycle of the retry logic.
//
// Disconnected: once RetryInterval has passed since the last attempt, reset
// the retry clock and start one bounded dial in the background.
// Connected: once RetryInterval has passed without a processed frame, send
// a new parameter data request.
func (l *Link) Tick(now time.Time) {
	l.mu.Lock()
	if l.closed || now.Sub(l.retry) < l.cfg.RetryInterval {
		l.mu.Unlock()
		return
	}

	switch l.state {
	case Disconnected:
		l.retry = now
		l.state = Connecting
		l.attempts++
		l.wg.Add(1)
		l.mu.Unlock()
		go l.connect()
	case Connected:
		l.retry = now
		conn := l.conn
		l.mu.Unlock()
		l.request(conn)
	default:
		l.mu.Unlock()
	}
}

func (l *Link) connect() {
	defer l.wg.Done()

	ctx, cancel := context.WithTimeout(l.ctx, l.cfg.DialTimeout)
	conn, err := l.dial(ctx, "tcp", l.cfg.Addr)
	cancel()

	l.mu.Lock()
	if err != nil {
		l.state = Disconnected
		l.lastErr = err.Error()
		closed := l.closed
		l.mu.Unlock()
		if !closed {
			l.warnf("link: connect %s failed: %v", l.cfg.Addr, err)
		}
		return
	}
	if l.closed {
		l.mu.Unlock()
		_ = conn.Close()
		return
	}
	session := uuid.NewString()
	l.conn = conn
	l.session = session
	l.state = Connected
	l.lastErr = ""
	l.wg.Add(1)
	l.mu.Unlock()

	log.Printf("link: connected to %s session=%s", l.cfg.Addr, session)
	go l.readLoop(conn, session)
	l.request(conn)
}

// request sends a parameter data subscription on conn.
func (l *Link) request(conn net.Conn) {
	if conn == nil {
		return
	}
	l.mu.Lock()
	seq := l.seq
	l.seq++
	l.requests++
	l.retry = l.now()
	l.mu.Unlock()

	msg := pdi.EncodeParameterRequest(seq, l.cfg.Rate)
	_ = conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	if _, err := conn.Write(msg); err != nil {
		l.fault(conn, fmt.Errorf("request seq=%d: %w", seq, err))
	}
}

func (l *Link) readLoop(conn net.Conn, session string) {
	defer l.wg.Done()

	r := pdi.NewReader(conn)
	for {
		frame, err := r.Next()
		if n := r.Skipped(); n > 0 {
			l.warnf("link: session=%s skipped %d bytes before start marker", session, n)
		}
		if err != nil {
			if errors.Is(err, pdi.ErrMalformedFrame) {
				l.countMalformed(err)
				continue
			}
			l.fault(conn, err)
			return
		}
		l.handleFrame(frame)
	}
}

func (l *Link) handleFrame(frame []byte) {
	f, err := pdi.Parse(frame)
	if err != nil {
		l.countMalformed(err)
		return
	}
	if l.cfg.ValidateCRC {
		if err := f.VerifyChecksum(); err != nil {
			l.countMalformed(err)
			return
		}
	}
	s, ok, err := f.Sample()
	if err != nil {
		l.countMalformed(err)
		return
	}

	now := l.now()
	if ok {
		l.sink.ApplySample("tcp", s, now)
	}

	l.mu.Lock()
	l.frames++
	l.lastFrame = now
	l.retry = now
	l.mu.Unlock()
}

func (l *Link) countMalformed(err error) {
	l.mu.Lock()
	l.malformed++
	l.lastErr = err.Error()
	l.mu.Unlock()
	l.warnf("link: dropped frame: %v", err)
}

// fault closes conn and drops to Disconnected if conn is still current.
func (l *Link) fault(conn net.Conn, err error) {
	l.mu.Lock()
	current := l.conn == conn
	if current {
		l.conn = nil
		l.state = Disconnected
		l.lastErr = err.Error()
	}
	closed := l.closed
	session := l.session
	l.mu.Unlock()

	_ = conn.Close()
	if current && !closed && !errors.Is(err, net.ErrClosed) {
		log.Printf("link: session=%s disconnected: %v", session, err)
	}
}

// Close shuts the link down from any state. Safe to call more than once.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		conn := l.conn
		l.conn = nil
		l.state = Disconnected
		l.mu.Unlock()

		l.cancel()
		if conn != nil {
			_ = conn.Close()
		}
		l.wg.Wait()
	})
}

func (l *Link) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := Snapshot{
		Addr:      l.cfg.Addr,
		State:     l.state.String(),
		Session:   l.session,
		LastError: l.lastErr,
		Attempts:  l.attempts,
		Requests:  l.requests,
		Frames:    l.frames,
		Malformed: l.malformed,
		NextSeq:   l.seq,
	}
	if !l.lastFrame.IsZero() {
		out.LastFrameUTC = l.lastFrame.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (l *Link) warnf(format string, args ...any) {
	if l.warn.Allow() {
		log.Printf(format, args...)
	}
}
