package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gbrandao/pchat/internal/bus"
)

const (
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Time allowed to write a control message to the peer.
	writeWait = 10 * time.Second
	// Maximum frame size accepted from the peer.
	maxFrameSize = 512 * 1024

	redialDelay = 5 * time.Second
)

// Reporter receives connectivity observations from the stream.
type Reporter interface {
	Report(online bool)
}

// Client owns the single process-wide realtime subscription. All consumers
// share it through the bus; nothing else dials the push channel.
type Client struct {
	url      string
	token    string
	bus      *bus.Bus
	reporter Reporter
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates the realtime channel client.
func NewClient(url, token string, b *bus.Bus, reporter Reporter, logger *zap.Logger) *Client {
	return &Client{
		url:      url,
		token:    token,
		bus:      b,
		reporter: reporter,
		logger:   logger,
	}
}

// Start begins the subscription loop: dial, pump, redial until Stop. Tied to
// session login; call Stop on logout.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop tears down the subscription and waits for the pump to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	for {
		if err := c.connectAndPump(ctx); err != nil {
			c.logger.Warn("realtime stream closed", zap.Error(err))
			if c.reporter != nil {
				c.reporter.Report(false)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(redialDelay):
		}
	}
}

func (c *Client) connectAndPump(ctx context.Context) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	c.logger.Info("realtime stream connected", zap.String("url", c.url))
	if c.reporter != nil {
		c.reporter.Report(true)
	}

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Ping loop; also unblocks the reader on ctx cancellation by closing
	// the connection.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		evt, err := ParseEvent(data)
		if err != nil {
			// Bad frames must not disturb other subscribers or the
			// connection.
			c.logger.Warn("dropping malformed realtime event", zap.Error(err))
			continue
		}
		c.bus.Publish(evt)
	}
}
