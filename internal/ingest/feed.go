package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/tmflab/tmftrader/internal/metrics"
	"github.com/tmflab/tmftrader/internal/payload"
	"github.com/tmflab/tmftrader/internal/store"
)

// FeedConfig tunes the websocket feed client.
type FeedConfig struct {
	URL string `yaml:"url"`
	// Codes are the contract codes to subscribe (e.g. TMFB6).
	Codes          []string      `yaml:"codes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// Circuit breaker: open after BreakerMaxFailures consecutive dial/read
	// failures, probe again after BreakerOpenTimeout.
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout"`
}

// DefaultFeedConfig returns feed defaults.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReadTimeout:        30 * time.Second,
		ReconnectDelay:     3 * time.Second,
		BreakerMaxFailures: 5,
		BreakerOpenTimeout: 30 * time.Second,
	}
}

// frame is one inbound feed message.
type frame struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// Feed streams book and tick events from a websocket source into the
// recorder, with a circuit breaker around the connect/read cycle so a
// flapping upstream cannot spin the dial loop.
type Feed struct {
	rec     *Recorder
	cfg     FeedConfig
	met     *metrics.Registry
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewFeed builds a feed client. met may be nil.
func NewFeed(rec *Recorder, cfg FeedConfig, met *metrics.Registry, log zerolog.Logger) *Feed {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultFeedConfig().ReadTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultFeedConfig().ReconnectDelay
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = DefaultFeedConfig().BreakerMaxFailures
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = DefaultFeedConfig().BreakerOpenTimeout
	}
	lg := log.With().Str("component", "feed").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "market-feed",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn().Str("from", from.String()).Str("to", to.String()).Msg("feed breaker state change")
		},
	})
	return &Feed{rec: rec, cfg: cfg, met: met, breaker: breaker, log: lg}
}

// Run connects and streams until ctx is done, reconnecting through the
// circuit breaker. Lifecycle events bracket each session.
func (f *Feed) Run(ctx context.Context) error {
	f.rec.Offer(store.KindSessionStart, map[string]any{"url": f.cfg.URL, "codes": f.cfg.Codes})
	defer f.rec.Offer(store.KindSessionStop, map[string]any{"url": f.cfg.URL})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := f.breaker.Execute(func() (any, error) {
			return nil, f.session(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.rec.Offer(store.KindSessionError, map[string]any{"error": err.Error()})
			if f.met != nil {
				f.met.FeedReconnects.Inc()
			}
			f.log.Warn().Err(err).Msg("feed session ended; reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.ReconnectDelay):
		}
	}
}

// session dials, subscribes, and pumps frames until an error or ctx end.
func (f *Feed) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial feed: %w", err)
	}
	defer conn.Close()
	f.rec.Offer(store.KindSessionReady, map[string]any{"url": f.cfg.URL})

	sub := map[string]any{"op": "subscribe", "codes": f.cfg.Codes}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	f.rec.Offer(store.KindSubscribeOK, map[string]any{"codes": f.cfg.Codes})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read feed frame: %w", err)
		}
		f.handleFrame(raw)
	}
}

// handleFrame decodes one frame and offers it to the recorder. Bad frames
// are counted and skipped.
func (f *Feed) handleFrame(raw []byte) {
	var fr frame
	if err := json.Unmarshal(raw, &fr); err != nil || fr.Kind == "" {
		if f.met != nil {
			f.met.ParserFaultsTotal.WithLabelValues("feed").Inc()
		}
		return
	}
	if fr.Payload == nil {
		fr.Payload = map[string]any{}
	}
	if _, ok := fr.Payload["recv_ts"]; !ok {
		fr.Payload["recv_ts"] = time.Now().Format(time.RFC3339Nano)
	}
	// only known market kinds pass through; anything else is stored as-is
	// for forward compatibility
	switch fr.Kind {
	case store.KindBookFOP, store.KindTickFOP, store.KindTickSTK:
		if payload.String(fr.Payload["code"]) == "" {
			if f.met != nil {
				f.met.ParserFaultsTotal.WithLabelValues("feed").Inc()
			}
			return
		}
	}
	f.rec.Offer(fr.Kind, fr.Payload)
}
