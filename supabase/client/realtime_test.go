package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRealtimeURL(t *testing.T) {
	u, err := realtimeURL("https://abc.supabase.co/", "anon")
	require.NoError(t, err)
	assert.Equal(t, "wss://abc.supabase.co/realtime/v1/websocket?apikey=anon&vsn=1.0.0", u)

	u, err = realtimeURL("http://localhost:54321", "anon")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:54321/realtime/v1/websocket?apikey=anon&vsn=1.0.0", u)

	_, err = realtimeURL("ftp://x", "anon")
	assert.Error(t, err)
	_, err = realtimeURL("https://x", "")
	assert.Error(t, err)
}

func TestRealtimeDeliversPostgresChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	joined := make(chan phxMessage, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var msg phxMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Event != "phx_join" {
				continue
			}
			joined <- msg
			_ = conn.WriteJSON(phxMessage{Topic: msg.Topic, Event: "phx_reply", Ref: msg.Ref,
				Payload: json.RawMessage(`{"status":"ok","response":{}}`)})
			_ = conn.WriteJSON(phxMessage{Topic: msg.Topic, Event: "postgres_changes",
				Payload: json.RawMessage(`{"data":{"type":"UPDATE","schema":"public","table":"categories","record":{"id":"c1","name":"Plumbers"},"commit_timestamp":"2024-05-01T10:00:00Z"}}`)})
		}
	}))
	defer srv.Close()

	rt, err := NewRealtimeClient(RealtimeConfig{URL: srv.URL, APIKey: "anon", HeartbeatInterval: 20 * time.Millisecond})
	require.NoError(t, err)

	events := make(chan ChangeEvent, 1)
	rt.OnPostgresChanges(PostgresChangesConfig{Table: "categories"}, func(ev ChangeEvent) {
		events <- ev
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	select {
	case msg := <-joined:
		assert.Equal(t, "realtime:public:categories", msg.Topic)
		var payload struct {
			Config struct {
				PostgresChanges []map[string]string `json:"postgres_changes"`
			} `json:"config"`
		}
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		require.Len(t, payload.Config.PostgresChanges, 1)
		assert.Equal(t, "*", payload.Config.PostgresChanges[0]["event"])
		assert.Equal(t, "categories", payload.Config.PostgresChanges[0]["table"])
	case <-time.After(2 * time.Second):
		t.Fatal("no join received")
	}

	select {
	case ev := <-events:
		assert.Equal(t, EventUpdate, ev.Type)
		assert.Equal(t, "categories", ev.Table)
		assert.Equal(t, "Plumbers", ev.Record["name"])
	case <-time.After(2 * time.Second):
		t.Fatal("no change event delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRealtimeDispatchFiltersByEvent(t *testing.T) {
	rt, err := NewRealtimeClient(RealtimeConfig{URL: "http://localhost", APIKey: "anon"})
	require.NoError(t, err)

	var got []string
	subs := []subscription{
		{cfg: PostgresChangesConfig{Event: EventInsert, Table: "providers"}, topic: "realtime:public:providers",
			handler: func(ev ChangeEvent) { got = append(got, "insert:"+ev.Type) }},
		{cfg: PostgresChangesConfig{Event: EventAll, Table: "providers"}, topic: "realtime:public:providers",
			handler: func(ev ChangeEvent) { got = append(got, "all:"+ev.Type) }},
	}

	rt.dispatch("realtime:public:providers", ChangeEvent{Type: EventDelete, Table: "providers"}, subs)
	rt.dispatch("realtime:public:providers", ChangeEvent{Type: EventInsert, Table: "providers"}, subs)
	rt.dispatch("realtime:public:reviews", ChangeEvent{Type: EventInsert, Table: "reviews"}, subs)

	assert.Equal(t, []string{"all:DELETE", "insert:INSERT", "all:INSERT"}, got)
}
