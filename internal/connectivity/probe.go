package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe reports whether the agent currently has a path to the remote store.
// Subscribers hear about transitions, not every poll.
type Probe interface {
	Online() bool
	Subscribe(fn func(online bool))
}

// Pinger is the reachability check; satisfied by the replicate store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPProbe polls the remote store on an interval. It starts offline: the
// agent assumes nothing about connectivity until a ping succeeds.
type HTTPProbe struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	online bool
	subs   []func(online bool)
}

func NewHTTPProbe(pinger Pinger, interval time.Duration, log *slog.Logger) *HTTPProbe {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPProbe{
		pinger:   pinger,
		interval: interval,
		timeout:  5 * time.Second,
		log:      log,
	}
}

func (p *HTTPProbe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *HTTPProbe) Subscribe(fn func(online bool)) {
	p.mu.Lock()
	p.subs = append(p.subs, fn)
	p.mu.Unlock()
}

// Run polls until the context ends. An immediate first check avoids waiting
// a full interval after startup.
func (p *HTTPProbe) Run(ctx context.Context) {
	p.Check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check performs one reachability probe and fires subscribers on transition.
func (p *HTTPProbe) Check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	online := p.pinger.Ping(pctx) == nil

	p.mu.Lock()
	changed := online != p.online
	p.online = online
	subs := make([]func(bool), len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	if changed {
		p.log.Info("connectivity changed", "online", online)
		for _, fn := range subs {
			fn(online)
		}
	}
	return online
}

// StaticProbe is a fixed-state probe for tests and forced-offline runs.
type StaticProbe struct {
	mu     sync.Mutex
	online bool
	subs   []func(online bool)
}

func NewStaticProbe(online bool) *StaticProbe {
	return &StaticProbe{online: online}
}

func (p *StaticProbe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *StaticProbe) Subscribe(fn func(online bool)) {
	p.mu.Lock()
	p.subs = append(p.subs, fn)
	p.mu.Unlock()
}

// Set flips the state and notifies subscribers on transition.
func (p *StaticProbe) Set(online bool) {
	p.mu.Lock()
	changed := online != p.online
	p.online = online
	subs := make([]func(bool), len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()
	if changed {
		for _, fn := range subs {
			fn(online)
		}
	}
}
