package selector

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Monitor polls reachability of a lightweight probe endpoint on a fixed
// interval and reports flips to the selector. It runs independently of any
// session and never blocks audio feeding.
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client
	sel      *Selector
	log      zerolog.Logger
	online   bool
	primed   bool
}

// MonitorOptions configures the connectivity monitor.
type MonitorOptions struct {
	ProbeURL string
	Interval time.Duration
	Timeout  time.Duration
	Selector *Selector
	Log      zerolog.Logger
}

// NewMonitor creates a connectivity monitor.
func NewMonitor(opts MonitorOptions) *Monitor {
	if opts.Interval == 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	return &Monitor{
		probeURL: opts.ProbeURL,
		interval: opts.Interval,
		client:   &http.Client{Timeout: opts.Timeout},
		sel:      opts.Selector,
		log:      opts.Log,
	}
}

// Run probes until ctx is cancelled. The first probe fires immediately so
// the selector starts with a real connectivity reading.
func (m *Monitor) Run(ctx context.Context) {
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// Probe performs a single reachability check.
func (m *Monitor) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func (m *Monitor) check(ctx context.Context) {
	online := m.Probe(ctx)
	if m.primed && online == m.online {
		return
	}
	m.primed = true
	m.online = online
	m.log.Info().Bool("online", online).Str("probe", m.probeURL).Msg("connectivity state")
	m.sel.SetOnline(online)
}
