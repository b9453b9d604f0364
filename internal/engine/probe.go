package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/avelar-io/ttskit/internal/transport"
)

const (
	defaultProbeInterval  = 5 * time.Minute
	defaultProbeText      = "1"
	defaultProbeThreshold = 2
)

// ProbeConfig drives mixed-mode fallback. Interval 0 means continuous retry
// while the network is degraded; negative falls back to the default period.
// FailureThreshold is the number of consecutive failures, probe or live
// request, after which routing switches offline. A single transient failure
// never flips routing with the default threshold.
type ProbeConfig struct {
	Interval         time.Duration
	FailureThreshold int
	Text             string
}

func (c ProbeConfig) normalize() ProbeConfig {
	if c.Interval < 0 {
		c.Interval = defaultProbeInterval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultProbeThreshold
	}
	if c.Text == "" {
		c.Text = defaultProbeText
	}
	return c
}

type ProberConfig struct {
	Client   transport.RequestClient
	Probe    ProbeConfig
	Request  func() (transport.Request, error)
	OnResult func(err error)
	// Degraded gates the loop: Run keeps probing only while it returns true.
	// Nil means probe until cancelled.
	Degraded func() bool
	Log      *slog.Logger
}

// Prober issues a representative synthesis request on a schedule to test
// backend reachability. Every probe is a real synthesis call and consumes
// backend quota, so it runs only while the network is degraded.
type Prober struct {
	client   transport.RequestClient
	interval time.Duration
	request  func() (transport.Request, error)
	onResult func(err error)
	degraded func() bool
	log      *slog.Logger
}

func NewProber(cfg ProberConfig) *Prober {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	degraded := cfg.Degraded
	if degraded == nil {
		degraded = func() bool { return true }
	}
	return &Prober{
		client:   cfg.Client,
		interval: cfg.Probe.Interval,
		request:  cfg.Request,
		onResult: cfg.OnResult,
		degraded: degraded,
		log:      log.With("component", "health-probe"),
	}
}

// Run probes while the degraded gate holds and returns once health is
// restored or ctx is cancelled. With a zero interval it retries continuously;
// cancellation still interrupts it between attempts.
func (p *Prober) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil || !p.degraded() {
			return
		}
		p.probe(ctx)

		if p.interval == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.interval):
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	req, err := p.request()
	if err != nil {
		p.log.Warn("probe request construction failed", "error", err)
		p.onResult(err)
		return
	}
	_, err = p.client.Synthesize(ctx, req)
	if err != nil && ctx.Err() != nil {
		return
	}
	if err != nil {
		p.log.Debug("probe failed", "error", err)
	}
	p.onResult(err)
}
