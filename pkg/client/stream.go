package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dex-console/pkg/types"
)

type subscribeFrame struct {
	Action string `json:"action"`
	aggregateRequest
}

type streamFrame struct {
	Type   string      `json:"type"`
	Quotes []wireQuote `json:"quotes"`
	Detail string      `json:"detail"`
}

// streamURL turns the HTTP base address into the ws:// or wss:// stream address
func (g *Gateway) streamURL() (string, error) {
	u, err := url.Parse(g.baseURL + PathQuoteStream)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// SubscribeQuotes streams validated quote sets for intent until ctx ends.
// Frames without a single valid quote arrive as updates carrying ErrNoTradableQuotes.
// The channel is closed when the connection ends.
func (g *Gateway) SubscribeQuotes(ctx context.Context, intent types.TradeIntent, wallet string) (<-chan types.QuoteUpdate, error) {
	addr, err := g.streamURL()
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: PathQuoteStream, Err: err}
	}

	dialCtx, cancel := context.WithTimeout(ctx, g.timeouts.Aggregate)
	defer cancel()

	conn, resp, err := g.dialer.DialContext(dialCtx, addr, nil)
	if err != nil {
		g.metrics.RecordRequestError("GET", PathQuoteStream)
		if resp != nil {
			return nil, &Error{Kind: KindProtocol, Op: PathQuoteStream, StatusCode: resp.StatusCode, Err: err}
		}
		return nil, &Error{Kind: KindTransport, Op: PathQuoteStream, Err: err}
	}

	frame := subscribeFrame{
		Action: "subscribe",
		aggregateRequest: aggregateRequest{
			Chain:         intent.Chain,
			FromToken:     intent.FromToken,
			ToToken:       intent.ToToken,
			Amount:        intent.FromAmount.String(),
			Slippage:      intent.Slippage.String(),
			WalletAddress: wallet,
		},
	}
	if err := conn.WriteJSON(frame); err != nil {
		conn.Close()
		return nil, &Error{Kind: KindTransport, Op: PathQuoteStream, Err: err}
	}

	g.log.Info("Quote stream subscribed", zap.String("url", addr))

	updates := make(chan types.QuoteUpdate)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			conn.Close()
			return
		}
		// Unblocks ReadJSON in the reader goroutine
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	go func() {
		defer close(updates)
		defer close(done)
		for {
			var msg streamFrame
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					g.log.Warn("Quote stream closed", zap.Error(err))
					g.send(ctx, updates, types.QuoteUpdate{
						ReceivedAt: time.Now(),
						Err:        &Error{Kind: KindTransport, Op: PathQuoteStream, Err: err},
					})
				}
				return
			}

			update := types.QuoteUpdate{ReceivedAt: time.Now()}
			if msg.Type == "error" {
				update.Err = &Error{Kind: KindDomain, Op: PathQuoteStream, Detail: msg.Detail}
			} else {
				for _, w := range msg.Quotes {
					q, err := toQuote(w, intent.FromToken, intent.ToToken)
					if err != nil {
						g.log.Debug("Dropping invalid streamed quote", zap.Error(err))
						continue
					}
					update.Quotes = append(update.Quotes, q)
				}
				if len(update.Quotes) == 0 {
					update.Err = &Error{Kind: KindDomain, Op: PathQuoteStream, Detail: ErrNoTradableQuotes.Error(), Err: ErrNoTradableQuotes}
				}
			}

			if !g.send(ctx, updates, update) {
				return
			}
		}
	}()

	return updates, nil
}

func (g *Gateway) send(ctx context.Context, ch chan<- types.QuoteUpdate, u types.QuoteUpdate) bool {
	select {
	case ch <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

