package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func TestNotifier_FilterAndFailures(t *testing.T) {
	good := &recordingSender{name: "good"}
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	n := NewNotifier([]Sender{good, bad}, []string{"trade_executed", " engine_halted "}, discardLogger())

	err := n.Notify(context.Background(), domain.Event{Type: domain.EventTradeExecuted, Title: "Trade"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")

	require.NoError(t, n.Notify(context.Background(), domain.Event{Type: domain.EventScanCompleted, Title: "Scan"}))
	assert.Equal(t, []string{"Trade"}, good.sent())

	_ = n.NotifyAll(context.Background(), "Startup", "")
	assert.Equal(t, []string{"Trade", "Startup"}, good.sent())
	assert.True(t, n.Allows(domain.EventEngineHalted))
}

func TestNotifier_NoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, discardLogger())
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), domain.Event{Type: domain.EventStatus}))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), "Trade <WIF>", "tx a_b"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>Trade &lt;WIF&gt;</b>\ntx a_b", got["text"])

	rejected := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"description":"chat not found"}`)
	}))
	defer rejected.Close()
	err := NewTelegramSender(rejected.URL, "TOKEN", "42").Send(context.Background(), "x", "y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestDiscordSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Halted", strings.Repeat("x", 3000)))
	assert.Len(t, []rune(got["content"].(string)), discordContentLimit)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusNotFound)
	}))
	defer failing.Close()
	assert.Error(t, NewDiscordSender(failing.URL).Send(context.Background(), "x", "y"))
}

type fakeBus struct {
	mu        sync.Mutex
	published []string
	stream    int
}

func (b *fakeBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, channel)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream++
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type chanBroadcaster chan []byte

func (c chanBroadcaster) Broadcast(_ string, msg []byte) { c <- msg }

func TestDispatcher_FansOut(t *testing.T) {
	em := domain.NewEmitter(8)
	sender := &recordingSender{name: "rec"}
	bus := &fakeBus{}
	audit := &fakeAudit{}
	local := make(chanBroadcaster, 8)

	d := NewDispatcher(em, NewNotifier([]Sender{sender}, nil, discardLogger()), discardLogger())
	d.SetBus(bus)
	d.SetAudit(audit)
	d.SetBroadcaster(local)

	em.Emit(domain.Event{Type: domain.EventScanCompleted, Title: "Scan"})
	em.Emit(domain.Event{Type: domain.EventEngineHalted, Title: "Halted"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case msg := <-local:
			var ev domain.Event
			require.NoError(t, json.Unmarshal(msg, &ev))
			assert.NotZero(t, ev.At)
		case <-time.After(2 * time.Second):
			t.Fatal("event not broadcast")
		}
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"Scan", "Halted"}, sender.sent())
	assert.Equal(t, []string{"ch:scan_completed", "ch:engine_halted"}, bus.published)
	assert.Equal(t, 2, bus.stream)
	assert.Equal(t, []string{"engine_halted"}, audit.events)
}

func TestDispatcher_DrainsOnShutdown(t *testing.T) {
	em := domain.NewEmitter(8)
	sender := &recordingSender{name: "rec"}
	d := NewDispatcher(em, NewNotifier([]Sender{sender}, nil, discardLogger()), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	em.Emit(domain.Event{Type: domain.EventTradeFailed, Title: "Failed"})

	require.NoError(t, d.Run(ctx))
	assert.Equal(t, []string{"Failed"}, sender.sent())
}
