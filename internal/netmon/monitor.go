package netmon

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gbrandao/pchat/internal/bus"
	"github.com/gbrandao/pchat/internal/status"
)

// Monitor tracks reachability of the remote API as a binary online/offline
// signal. It combines an active TCP probe with passive reports from the
// transports (realtime stream, send attempts). Transitions are edge
// triggered: net.online / net.offline fire once per flip.
type Monitor struct {
	addr          string
	probeInterval time.Duration
	probeTimeout  time.Duration
	bus           *bus.Bus
	machine       *status.Machine
	logger        *zap.Logger

	mu     sync.Mutex
	online bool
	cancel context.CancelFunc
}

// New creates a monitor probing the host of baseURL.
func New(baseURL string, probeInterval, probeTimeout time.Duration, b *bus.Bus, machine *status.Machine, logger *zap.Logger) (*Monitor, error) {
	addr, err := probeAddr(baseURL)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		addr:          addr,
		probeInterval: probeInterval,
		probeTimeout:  probeTimeout,
		bus:           b,
		machine:       machine,
		logger:        logger,
	}, nil
}

// Online returns the current belief about connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Report feeds an observed connectivity result into the monitor. Transports
// call this with their successes and failures so a dead link is noticed
// before the next probe.
func (m *Monitor) Report(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.mu.Unlock()

	if online {
		m.logger.Info("network reachable", zap.String("addr", m.addr))
		_ = m.machine.Transition(status.Online)
		m.bus.Publish(bus.Event{Kind: bus.NetOnline, Timestamp: time.Now()})
	} else {
		m.logger.Warn("network unreachable", zap.String("addr", m.addr))
		_ = m.machine.Transition(status.Offline)
		m.bus.Publish(bus.Event{Kind: bus.NetOffline, Timestamp: time.Now()})
	}
}

// Start begins the active probe loop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// Stop stops the probe loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) loop(ctx context.Context) {
	// Probe immediately so the daemon knows where it stands at boot.
	m.probe()
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.probe()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) probe() {
	conn, err := net.DialTimeout("tcp", m.addr, m.probeTimeout)
	if err != nil {
		m.Report(false)
		return
	}
	_ = conn.Close()
	m.Report(true)
}

// probeAddr derives a host:port dial target from the API base URL.
func probeAddr(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http", "ws":
			port = "80"
		default:
			port = "443"
		}
	}
	return net.JoinHostPort(host, port), nil
}
