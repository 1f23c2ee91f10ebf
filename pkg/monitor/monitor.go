// Package monitor runs the poll loop for one BMS device: poll, derive
// missing metrics, publish, optionally disconnect between polls.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/homefleet/bmsble/pkg/bms"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bms",
		Name:      "polls_total",
		Help:      "Poll attempts per device.",
	}, []string{"device"})
	pollErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bms",
		Name:      "poll_errors_total",
		Help:      "Failed poll attempts per device.",
	}, []string{"device"})
	lastUpdate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bms",
		Name:      "last_update_seconds",
		Help:      "Unix time of the last successful poll per device.",
	}, []string{"device"})
)

type Config struct {
	// Device labels log lines, metrics and published updates.
	Device string
	// PollInterval defaults to 30s.
	PollInterval time.Duration
	// PollTimeout bounds one Update call, default 20s.
	PollTimeout time.Duration
	// Requested is the key set handed to CalcValues. Defaults to the full
	// metric vocabulary.
	Requested bms.KeySet
	// Reconnect closes the device link after every poll.
	Reconnect bool
}

// Update is one published poll result.
type Update struct {
	Device string
	Time   time.Time
	Values bms.Values
}

type Monitor struct {
	cfg     Config
	dev     bms.BMS
	updates chan Update
	stopCh  chan struct{}
	stopped chan struct{}
	mu      sync.Mutex
	running bool
}

func New(dev bms.BMS, cfg Config) *Monitor {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 20 * time.Second
	}
	if cfg.Requested == nil {
		cfg.Requested = bms.AllKeys()
	}
	return &Monitor{
		cfg:     cfg,
		dev:     dev,
		updates: make(chan Update, 16),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Updates returns the channel of poll results. It is closed by Stop.
func (m *Monitor) Updates() <-chan Update {
	return m.updates
}

func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()
	go m.run()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()
	close(m.stopCh)
	<-m.stopped
	close(m.updates)
}

func (m *Monitor) run() {
	defer close(m.stopped)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	m.poll()
	for {
		select {
		case <-ticker.C:
			m.poll()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PollTimeout)
	defer cancel()

	pollsTotal.WithLabelValues(m.cfg.Device).Inc()
	vals, err := m.dev.Update(ctx)
	if err != nil {
		pollErrorsTotal.WithLabelValues(m.cfg.Device).Inc()
		log.Printf("monitor %s: poll failed: %v", m.cfg.Device, err)
	} else {
		if vals == nil {
			vals = bms.Values{}
		}
		bms.CalcValues(vals, m.cfg.Requested)
		m.publish(Update{Device: m.cfg.Device, Time: time.Now().UTC(), Values: vals})
		lastUpdate.WithLabelValues(m.cfg.Device).SetToCurrentTime()
	}

	if m.cfg.Reconnect {
		// The poll context may already be expired; the disconnect gets its own.
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		if err := m.dev.Disconnect(dctx); err != nil {
			log.Printf("monitor %s: disconnect failed: %v", m.cfg.Device, err)
		}
	}
}

func (m *Monitor) publish(u Update) {
	// If the consumer can't keep up, drop updates.
	select {
	case m.updates <- u:
	default:
		log.Printf("monitor %s: update buffer full, dropping", m.cfg.Device)
	}
}
