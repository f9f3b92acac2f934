// Package bridge wires the ingestion channels, the link, the scheduler and
// the status surfaces around one shared motion store.
package bridge

import (
	"context"
	"fmt"
	"log"
	"sync"

	"talin-bridge/internal/config"
	"talin-bridge/internal/indicator"
	"talin-bridge/internal/link"
	"talin-bridge/internal/motion"
	"talin-bridge/internal/scheduler"
	"talin-bridge/internal/udp"
	"talin-bridge/internal/web"
)

type Options struct {
	// Store is the motion-control core's state. A fresh motion.State is used
	// when nil.
	Store    motion.Store
	Notifier scheduler.Notifier
	Logs     *web.LogBuffer
}

type Bridge struct {
	cfg   config.Config
	store motion.Store
	logs  *web.LogBuffer

	tracker  *motion.Tracker
	listener *udp.Listener
	out      *udp.Broadcaster
	link     *link.Link
	sched    *scheduler.Scheduler
	lamp     *indicator.Lamp
	status   *web.Status

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New binds every socket up front; any error here is a startup failure.
func New(cfg config.Config, opts Options) (*Bridge, error) {
	store := opts.Store
	if store == nil {
		store = motion.NewState()
	}
	b := &Bridge{cfg: cfg, store: store, logs: opts.Logs}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.tracker = motion.NewTracker(store, cfg.StaleAfter)

	var err error
	b.listener, err = udp.Listen(udp.ListenerConfig{
		Addr:            cfg.ListenAddr(),
		TimestampWindow: cfg.UDP.TimestampWindow,
	}, b.tracker)
	if err != nil {
		b.Close()
		return nil, err
	}

	b.out, err = udp.NewBroadcaster(cfg.TalinUDPAddr(), cfg.UDP.DSCP)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("udp sender %s: %w", cfg.TalinUDPAddr(), err)
	}

	b.link, err = link.New(link.Config{
		Addr:          cfg.TalinTCPAddr(),
		Rate:          cfg.DataRate(),
		RetryInterval: cfg.TCP.RetryInterval,
		DialTimeout:   cfg.TCP.DialTimeout,
		ValidateCRC:   cfg.TCP.ValidateCRC,
	}, b.tracker)
	if err != nil {
		b.Close()
		return nil, err
	}

	b.lamp, err = indicator.Open(cfg.Indicator.GPIOPin)
	if err != nil {
		b.Close()
		return nil, err
	}

	b.sched, err = scheduler.New(scheduler.Config{Period: cfg.Scheduler.Period}, scheduler.Deps{
		Store:     store,
		Sender:    b.out,
		Link:      b.link,
		Notifier:  opts.Notifier,
		Indicator: b.lamp,
	})
	if err != nil {
		b.Close()
		return nil, err
	}

	b.status = web.NewStatus(web.Sources{
		Store:     store,
		Tracker:   b.tracker,
		Link:      b.link,
		Listener:  b.listener,
		Scheduler: b.sched,
	})
	b.status.SetStatic(cfg.Talin.Address, cfg.DataRate().String())
	return b, nil
}

// Run starts the receive loop, the scheduler and the optional status
// server, then blocks until ctx is cancelled or Close is called.
func (b *Bridge) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, b.cancel)
	defer stop()

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		if err := b.listener.Run(b.ctx); err != nil {
			log.Printf("udp: receive loop ended: %v", err)
		}
	}()
	go func() {
		defer b.wg.Done()
		_ = b.sched.Run(b.ctx)
	}()

	if addr := b.cfg.Web.Listen; addr != "" {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			log.Printf("web: listening on %s", addr)
			if err := web.Serve(b.ctx, addr, b.status, b.logs); err != nil {
				log.Printf("web: server failed: %v", err)
			}
		}()
	}

	log.Printf("bridge: running talin=%s udp_listen=%s rate=%s", b.cfg.Talin.Address, b.listener.Addr(), b.cfg.DataRate())
	<-b.ctx.Done()
	b.Close()
	return nil
}

// TriggerUpdate requests one outbound position command on the next tick.
func (b *Bridge) TriggerUpdate() {
	b.sched.TriggerUpdate()
}

// AttachNotifier replaces the scheduler's notification sink.
func (b *Bridge) AttachNotifier(n scheduler.Notifier) {
	b.sched.AttachNotifier(n)
}

func (b *Bridge) Store() motion.Store {
	return b.store
}

func (b *Bridge) Status() *web.Status {
	return b.status
}

// Close stops the scheduler, closes the UDP socket and closes the link.
// Safe from any goroutine, any number of times.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.cancel()
		if b.listener != nil {
			_ = b.listener.Close()
		}
		if b.link != nil {
			b.link.Close()
		}
		b.wg.Wait()
		if b.out != nil {
			_ = b.out.Close()
		}
		if b.lamp != nil {
			if err := b.lamp.Close(); err != nil {
				log.Printf("indicator: close failed: %v", err)
			}
		}
		log.Printf("bridge: stopped")
	})
}
