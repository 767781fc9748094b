package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/retry"
)

// WSConfig configures the websocket feed.
type WSConfig struct {
	// Connect governs the initial dial.
	Connect retry.Config
	// Reconnect governs redials after the connection drops.
	Reconnect retry.Config
	// HandshakeTimeout bounds one dial.
	HandshakeTimeout time.Duration
	// PingInterval is the interval between ping frames.
	PingInterval time.Duration
	// ReadTimeout is extended by every pong and every message.
	ReadTimeout time.Duration
	// WriteTimeout bounds one write.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default websocket settings.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		Connect:          retry.DefaultConfig(),
		Reconnect:        retry.ReconnectConfig(),
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      90 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// subscribeRequest asks the server to stream blocks starting at From.
type subscribeRequest struct {
	Op   string `json:"op"`
	From uint64 `json:"from"`
}

// WSSource is a live block feed. The server streams blocks in height order
// from the height of the last subscribe request. Duplicate blocks below the
// requested height are skipped; a dropped connection is redialed and the
// stream resubscribed at the next undelivered height.
type WSSource struct {
	endpoint string
	config   WSConfig
	logger   *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// next is the height the current subscription delivers next.
	next       domain.Height
	subscribed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// DialWS connects to a websocket feed.
func DialWS(ctx context.Context, endpoint string, config *WSConfig, logger *zap.Logger) (*WSSource, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &WSSource{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		done:     make(chan struct{}),
	}
	if err := retry.WithBackoff(ctx, cfg.Connect, logger, "ledger websocket connect", func() error {
		return s.connect(ctx)
	}); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.pingLoop()
	return s, nil
}

func (s *WSSource) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(maxLineSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	s.connMu.Lock()
	old := s.conn
	s.conn = conn
	s.connMu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	s.subscribed = false
	return nil
}

func (s *WSSource) reconnect(ctx context.Context) error {
	return retry.WithBackoff(ctx, s.config.Reconnect, s.logger, "ledger websocket reconnect", func() error {
		if s.closed.Load() {
			return &retry.Permanent{Err: errors.New("source closed")}
		}
		return s.connect(ctx)
	})
}

func (s *WSSource) subscribe(h domain.Height) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteJSON(subscribeRequest{Op: "subscribe", From: uint64(h)}); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	s.next = h
	s.subscribed = true
	return nil
}

// Block returns the block at h, waiting for the server to produce it.
func (s *WSSource) Block(ctx context.Context, h domain.Height) (*domain.Block, error) {
	for {
		if s.closed.Load() {
			return nil, fmt.Errorf("source closed")
		}
		if !s.subscribed || s.next != h {
			if err := s.subscribe(h); err != nil {
				if err := s.redial(ctx, err); err != nil {
					return nil, err
				}
				continue
			}
		}

		b, err := s.read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, ErrInvalidFeed) {
				return nil, err
			}
			if err := s.redial(ctx, err); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case b.Height < h:
			continue
		case b.Height > h:
			return nil, fmt.Errorf("%w: received height %d, wanted %d", ErrInvalidFeed, b.Height, h)
		}
		s.next = h + 1
		return b, nil
	}
}

func (s *WSSource) redial(ctx context.Context, cause error) error {
	s.logger.Warn("ledger websocket dropped, reconnecting",
		zap.String("endpoint", s.endpoint),
		zap.Uint64("next_height", uint64(s.next)),
		zap.Error(cause))
	return s.reconnect(ctx)
}

func (s *WSSource) read(ctx context.Context) (*domain.Block, error) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	return DecodeBlock(msg)
}

func (s *WSSource) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				deadline := time.Now().Add(s.config.WriteTimeout)
				if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					s.logger.Debug("ledger websocket ping failed", zap.Error(err))
				}
			}
			s.connMu.Unlock()
		}
	}
}

// Close closes the connection.
func (s *WSSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return nil
}
