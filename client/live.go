// server/client/live.go
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vinizap/haku/server/state"
	"github.com/vinizap/haku/server/worker"
	"github.com/vinizap/haku/server/ws"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultPingInterval   = 30 * time.Second
)

// Refresher reloads content after another session changed it. *Layer
// implements it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Live keeps a websocket open to the server's /ws endpoint. Change events from
// other sessions trigger a refresh, connectivity is mirrored into the state
// store, and any other message is handed to the worker dispatcher.
type Live struct {
	url            string
	header         http.Header
	origin         string
	state          *state.Store
	worker         *worker.Dispatcher
	refresher      Refresher
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            zerolog.Logger
}

func NewLive(baseURL, token, origin string, st *state.Store, d *worker.Dispatcher, r Refresher, log zerolog.Logger) (*Live, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return &Live{
		url:            u.String(),
		header:         header,
		origin:         origin,
		state:          st,
		worker:         d,
		refresher:      r,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: defaultReconnectDelay,
		pingInterval:   defaultPingInterval,
		log:            log.With().Str("component", "live").Logger(),
	}, nil
}

// Run connects and stays connected until ctx is canceled.
func (l *Live) Run(ctx context.Context) error {
	defer l.setOnline(context.WithoutCancel(ctx), false)
	for {
		err := l.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.setOnline(ctx, false)
		l.log.Warn().Err(err).Dur("retry_in", l.reconnectDelay).Msg("live connection lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.reconnectDelay):
		}
	}
}

func (l *Live) session(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.url, l.header)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go l.keepalive(ctx, conn, done)

	l.setOnline(ctx, true)
	l.log.Info().Str("url", l.url).Msg("live connection established")
	// Events may have been missed while disconnected.
	l.refresh(ctx, "connect")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		l.handle(ctx, raw)
	}
}

func (l *Live) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Unblocks ReadMessage in session.
			conn.Close()
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(ws.Event{Type: ws.EventPing}); err != nil {
				return
			}
		}
	}
}

func (l *Live) handle(ctx context.Context, raw []byte) {
	var e ws.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		l.log.Debug().Err(err).Msg("ignoring malformed live message")
		return
	}
	if !isChangeEvent(e.Type) {
		if err := l.worker.HandleRaw(ctx, raw); err != nil {
			l.log.Error().Err(err).Str("type", e.Type).Msg("worker message failed")
		}
		return
	}
	// Skip our own echo.
	if e.Origin != "" && e.Origin == l.origin {
		return
	}
	if e.Type == ws.EventFileDeleted && e.ID != "" {
		if err := l.state.ForgetFile(ctx, e.ID); err != nil {
			l.log.Warn().Err(err).Str("id", e.ID).Msg("failed to drop deleted file from history")
		}
	}
	l.refresh(ctx, e.Type)
}

// refresh reloads content and marks it available offline once a load has
// succeeded.
func (l *Live) refresh(ctx context.Context, reason string) {
	if err := l.refresher.Refresh(ctx); err != nil {
		l.log.Warn().Err(err).Str("reason", reason).Msg("refresh failed")
		return
	}
	if err := l.state.SetAvailableOffline(ctx, true); err != nil {
		l.log.Warn().Err(err).Msg("failed to record offline availability")
	}
}

func (l *Live) setOnline(ctx context.Context, online bool) {
	if err := l.state.SetOnline(ctx, online); err != nil {
		l.log.Warn().Err(err).Bool("online", online).Msg("failed to record connectivity")
	}
}

func isChangeEvent(t string) bool {
	switch t {
	case ws.EventFileChanged, ws.EventFileDeleted, ws.EventFolderChanged,
		ws.EventTodoChanged, ws.EventHistoryChanged, ws.EventInboxChanged:
		return true
	}
	return false
}
