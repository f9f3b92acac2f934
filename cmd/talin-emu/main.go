// Command talin-emu stands in for the reference unit on a bench: it serves
// PDI parameter data over TCP and sends gun position datagrams over UDP.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talin-bridge/internal/sim"
)

func main() {
	var (
		tcpAddr      string
		feedDest     string
		feedInterval time.Duration
		scenarioPath string
		period       time.Duration
	)
	flag.StringVar(&tcpAddr, "tcp", ":3000", "PDI listen address")
	flag.StringVar(&feedDest, "feed", "127.0.0.1:50121", "Gun position destination (empty disables)")
	flag.DurationVar(&feedInterval, "feed-interval", sim.DefaultFeedInterval, "Gun position send interval")
	flag.StringVar(&scenarioPath, "scenario", "", "Optional YAML keyframe scenario")
	flag.DurationVar(&period, "sweep-period", 20*time.Second, "Sweep period when no scenario is given")
	flag.Parse()

	var profile sim.Profile = sim.Sweep{AzimuthSpanMils: 800, BaseElevationMils: 150, ElevationSpanMils: 100, Period: period}
	if scenarioPath != "" {
		script, err := sim.LoadScenarioScript(scenarioPath)
		if err != nil {
			log.Fatalf("scenario load failed: %v", err)
		}
		scn, err := sim.NewScenario(script)
		if err != nil {
			log.Fatalf("scenario invalid: %v", err)
		}
		profile = scn
		log.Printf("sim: scenario %s duration=%s", scenarioPath, scn.Duration())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	unit, err := sim.ListenUnit(sim.UnitConfig{Addr: tcpAddr, Profile: profile})
	if err != nil {
		log.Fatalf("pdi listen failed: %v", err)
	}
	go func() {
		if err := unit.Serve(ctx); err != nil {
			log.Printf("pdi server stopped: %v", err)
			cancel()
		}
	}()
	log.Printf("talin-emu pdi on %s", unit.Addr())

	if feedDest != "" {
		feed, err := sim.NewFeed(sim.FeedConfig{Dest: feedDest, Interval: feedInterval, Profile: profile})
		if err != nil {
			log.Fatalf("feed init failed: %v", err)
		}
		defer feed.Close()
		go func() { _ = feed.Run(ctx) }()
		log.Printf("talin-emu feed to %s every %s", feedDest, feedInterval)
	}

	<-ctx.Done()
	_ = unit.Close()
	st := unit.Stats()
	log.Printf("talin-emu stopping connections=%d requests=%d frames=%d", st.Connections, st.Requests, st.Frames)
}
