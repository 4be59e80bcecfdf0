package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/needful-app/needful/internal/logging"
)

// Change event types delivered by postgres_changes.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventAll    = "*"
)

// ChangeEvent is one row change pushed by Supabase Realtime.
type ChangeEvent struct {
	Type            string         `json:"type"`
	Schema          string         `json:"schema"`
	Table           string         `json:"table"`
	Record          map[string]any `json:"record"`
	OldRecord       map[string]any `json:"old_record"`
	CommitTimestamp string         `json:"commit_timestamp"`
}

// ChangeHandler handles a change event. Handlers run on the reader
// goroutine and must not block.
type ChangeHandler func(ChangeEvent)

// PostgresChangesConfig selects which row changes to receive.
type PostgresChangesConfig struct {
	Event  string // INSERT, UPDATE, DELETE or *
	Schema string
	Table  string
	Filter string // optional, e.g. "status=eq.approved"
}

type subscription struct {
	cfg     PostgresChangesConfig
	topic   string
	handler ChangeHandler
}

// phxMessage is a Phoenix channel frame.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// RealtimeConfig configures a RealtimeClient.
type RealtimeConfig struct {
	URL               string // project URL, http(s)
	APIKey            string
	HeartbeatInterval time.Duration
	MaxReconnectDelay time.Duration
	Logger            *logging.Logger
}

// RealtimeClient subscribes to postgres_changes over the Phoenix websocket
// protocol and reconnects until its context is cancelled.
type RealtimeClient struct {
	url               string
	heartbeatInterval time.Duration
	maxReconnectDelay time.Duration
	log               *logrus.Entry
	dialer            websocket.Dialer

	mu      sync.Mutex
	subs    []subscription
	writeMu sync.Mutex
	ref     atomic.Int64
}

// NewRealtimeClient creates a realtime client for the project at cfg.URL.
func NewRealtimeClient(cfg RealtimeConfig) (*RealtimeClient, error) {
	wsURL, err := realtimeURL(cfg.URL, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	maxDelay := cfg.MaxReconnectDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &RealtimeClient{
		url:               wsURL,
		heartbeatInterval: heartbeat,
		maxReconnectDelay: maxDelay,
		log:               logger.WithComponent("realtime"),
		dialer:            websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

func realtimeURL(projectURL, apiKey string) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", fmt.Errorf("APIKey is required")
	}
	u, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(projectURL), "/"))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid realtime URL %q", projectURL)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// OnPostgresChanges registers a handler. Subscriptions added after Run has
// connected take effect on the next reconnect.
func (r *RealtimeClient) OnPostgresChanges(cfg PostgresChangesConfig, handler ChangeHandler) {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Event == "" {
		cfg.Event = EventAll
	}
	topic := "realtime:" + cfg.Schema + ":" + cfg.Table
	if cfg.Filter != "" {
		topic += ":" + cfg.Filter
	}

	r.mu.Lock()
	r.subs = append(r.subs, subscription{cfg: cfg, topic: topic, handler: handler})
	r.mu.Unlock()
}

// Run keeps a session open until ctx is cancelled, reconnecting with
// exponential backoff.
func (r *RealtimeClient) Run(ctx context.Context) error {
	delay := time.Second
	for {
		started := time.Now()
		err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > r.maxReconnectDelay {
			delay = time.Second
		}
		r.log.WithError(err).WithField("retry_in", delay.String()).Warn("realtime session ended")
		if err := sleepContext(ctx, delay); err != nil {
			return nil
		}
		delay *= 2
		if delay > r.maxReconnectDelay {
			delay = r.maxReconnectDelay
		}
	}
}

func (r *RealtimeClient) session(ctx context.Context) error {
	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	r.mu.Lock()
	subs := append([]subscription(nil), r.subs...)
	r.mu.Unlock()

	for _, sub := range subs {
		if err := r.join(conn, sub); err != nil {
			return err
		}
	}
	r.log.WithField("subscriptions", len(subs)).Info("realtime connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.readLoop(conn, subs)
	})
	g.Go(func() error {
		return r.heartbeat(gctx, conn)
	})
	g.Go(func() error {
		<-gctx.Done()
		r.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		r.writeMu.Unlock()
		return conn.Close()
	})
	return g.Wait()
}

func (r *RealtimeClient) nextRef() string {
	return strconv.FormatInt(r.ref.Add(1), 10)
}

func (r *RealtimeClient) send(conn *websocket.Conn, msg phxMessage) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (r *RealtimeClient) join(conn *websocket.Conn, sub subscription) error {
	change := map[string]string{
		"event":  sub.cfg.Event,
		"schema": sub.cfg.Schema,
		"table":  sub.cfg.Table,
	}
	if sub.cfg.Filter != "" {
		change["filter"] = sub.cfg.Filter
	}
	payload, err := json.Marshal(map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]any{"self": false},
			"presence":         map[string]any{"key": ""},
			"postgres_changes": []map[string]string{change},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal join: %w", err)
	}
	ref := r.nextRef()
	if err := r.send(conn, phxMessage{Topic: sub.topic, Event: "phx_join", Payload: payload, Ref: ref, JoinRef: ref}); err != nil {
		return fmt.Errorf("join %s: %w", sub.topic, err)
	}
	return nil
}

func (r *RealtimeClient) heartbeat(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			msg := phxMessage{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage(`{}`), Ref: r.nextRef()}
			if err := r.send(conn, msg); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

func (r *RealtimeClient) readLoop(conn *websocket.Conn, subs []subscription) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var msg phxMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			r.log.WithError(err).Debug("skipping malformed realtime frame")
			continue
		}
		r.handle(msg, subs)
	}
}

func (r *RealtimeClient) handle(msg phxMessage, subs []subscription) {
	switch msg.Event {
	case "postgres_changes":
		var payload struct {
			Data ChangeEvent `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			r.log.WithError(err).Debug("skipping malformed change payload")
			return
		}
		r.dispatch(msg.Topic, payload.Data, subs)
	case EventInsert, EventUpdate, EventDelete:
		var event ChangeEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			return
		}
		if event.Type == "" {
			event.Type = msg.Event
		}
		r.dispatch(msg.Topic, event, subs)
	case "phx_reply":
		var reply struct {
			Status   string         `json:"status"`
			Response map[string]any `json:"response"`
		}
		if err := json.Unmarshal(msg.Payload, &reply); err == nil && reply.Status != "ok" {
			r.log.WithFields(logrus.Fields{"topic": msg.Topic, "response": reply.Response}).Warn("realtime join rejected")
		}
	case "phx_error":
		r.log.WithField("topic", msg.Topic).Warn("realtime channel error")
	case "system":
		r.log.WithField("topic", msg.Topic).WithField("payload", string(msg.Payload)).Debug("realtime system message")
	}
}

func (r *RealtimeClient) dispatch(topic string, event ChangeEvent, subs []subscription) {
	for _, sub := range subs {
		if sub.topic != topic {
			continue
		}
		if event.Table != "" && event.Table != sub.cfg.Table {
			continue
		}
		if sub.cfg.Event != EventAll && !strings.EqualFold(sub.cfg.Event, event.Type) {
			continue
		}
		if event.Table == "" {
			event.Table = sub.cfg.Table
		}
		sub.handler(event)
	}
}
