package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxReconnectDelay = 60 * time.Second
)

// wsCommand is the subscription message sent to the upstream quote socket.
type wsCommand struct {
	Type        string   `json:"type"`
	Instruments []string `json:"instruments"`
}

// wsQuote is a top-of-book message from the upstream quote socket. Prices may
// arrive as JSON numbers or strings.
type wsQuote struct {
	Type       string      `json:"type"`
	Instrument string      `json:"instrument"`
	Bid        json.Number `json:"bid"`
	Ask        json.Number `json:"ask"`
	Timestamp  string      `json:"timestamp"`
}

// WSQuoteFeed streams top-of-book quotes from an upstream WebSocket and writes
// them to the shared quote cache, which rebroadcasts them to every
// QuoteFeeder. It reconnects with exponential backoff.
type WSQuoteFeed struct {
	wsURL       string
	instruments []string
	sink        domain.QuoteCache
	baseDelay   time.Duration
	logger      *slog.Logger
}

// NewWSQuoteFeed creates a feed that subscribes to the given instruments.
func NewWSQuoteFeed(wsURL string, instruments []string, sink domain.QuoteCache, reconnectDelay time.Duration, logger *slog.Logger) *WSQuoteFeed {
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	return &WSQuoteFeed{
		wsURL:       wsURL,
		instruments: instruments,
		sink:        sink,
		baseDelay:   reconnectDelay,
		logger:      logger.With(slog.String("component", "ws_quote_feed")),
	}
}

// Run connects, subscribes and forwards quotes until ctx is cancelled.
func (f *WSQuoteFeed) Run(ctx context.Context) error {
	if len(f.instruments) == 0 {
		f.logger.Info("no instruments to subscribe, exiting")
		return nil
	}
	delay := f.baseDelay
	for {
		connected, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = f.baseDelay
		}
		f.logger.Warn("quote socket disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *WSQuoteFeed) runConnection(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("feed/ws: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(wsCommand{Type: "subscribe", Instruments: f.instruments}); err != nil {
		return false, fmt.Errorf("feed/ws: subscribe: %w", err)
	}
	f.logger.Info("quote socket subscribed", slog.Int("instruments", len(f.instruments)))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				// Unblock ReadMessage.
				_ = conn.SetReadDeadline(time.Now())
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("feed/ws: read: %w", err)
		}
		q, ok, err := parseWSQuote(data, time.Now())
		if err != nil {
			f.logger.Debug("quote socket message dropped", slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}
		if err := f.sink.SetQuote(ctx, q); err != nil && ctx.Err() == nil {
			f.logger.Warn("quote store failed",
				slog.String("instrument", q.Instrument),
				slog.String("error", err.Error()),
			)
		}
	}
}

// parseWSQuote decodes one upstream message. Messages that are not quotes
// return ok=false without an error.
func parseWSQuote(data []byte, now time.Time) (domain.Quote, bool, error) {
	var m wsQuote
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Quote{}, false, fmt.Errorf("decode: %w", err)
	}
	if m.Type != "" && m.Type != "quote" {
		return domain.Quote{}, false, nil
	}
	if m.Instrument == "" {
		return domain.Quote{}, false, fmt.Errorf("missing instrument")
	}
	bid, err := strconv.ParseFloat(m.Bid.String(), 64)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("bid: %w", err)
	}
	ask, err := strconv.ParseFloat(m.Ask.String(), 64)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("ask: %w", err)
	}
	ts := now
	if m.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, m.Timestamp); err == nil {
			ts = t
		}
	}
	return domain.Quote{Instrument: m.Instrument, Bid: bid, Ask: ask, Timestamp: ts}, true, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
