package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/laundryhub/api/internal/events"
)

// Feed is a live subscription to a station's order and lock events.
type Feed struct {
	conn *websocket.Conn
	log  *slog.Logger
}

// feedURL builds the websocket address; a non-nil orderID narrows the feed
// to that order.
func (c *Client) feedURL(orderID uuid.UUID) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/stations/" + c.stationID.String() + "/orders"
	q := url.Values{"token": {c.bearer()}}
	if orderID != uuid.Nil {
		q.Set("order", orderID.String())
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DialFeed opens the station's websocket feed.
func (c *Client) DialFeed(ctx context.Context, log *slog.Logger) (*Feed, error) {
	return c.dial(ctx, uuid.Nil, log)
}

// DialOrderFeed opens a feed carrying only orderID's events.
func (c *Client) DialOrderFeed(ctx context.Context, orderID uuid.UUID, log *slog.Logger) (*Feed, error) {
	return c.dial(ctx, orderID, log)
}

func (c *Client) dial(ctx context.Context, orderID uuid.UUID, log *slog.Logger) (*Feed, error) {
	target, err := c.feedURL(orderID)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial feed: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial feed: %w", err)
	}
	return &Feed{conn: conn, log: log}, nil
}

// Run reads events until ctx is done or the connection fails, calling
// handle for each one. The hub batches several events into one frame
// separated by newlines.
func (f *Feed) Run(ctx context.Context, handle func(events.Event)) error {
	stop := context.AfterFunc(ctx, func() { f.conn.Close() })
	defer stop()

	for {
		_, msg, err := f.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read feed: %w", err)
		}
		for _, line := range bytes.Split(msg, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var e events.Event
			if err := json.Unmarshal(line, &e); err != nil {
				f.log.Warn("skipping malformed feed event", "error", err)
				continue
			}
			handle(e)
		}
	}
}

func (f *Feed) Close() error {
	return f.conn.Close()
}
