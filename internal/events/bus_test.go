package events

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	"nhooyr.io/websocket/wsjson"

	"github.com/scrypster/engram/internal/metrics"
)

func TestPublish_AssignsPerUserSequence(t *testing.T) {
	bus := NewBus(Config{QueueSize: 4, History: 16}, nil, nil)

	a1 := bus.Publish("alice", TypeMemoryCreated, nil)
	a2 := bus.Publish("alice", TypeLinkCreated, nil)
	b1 := bus.Publish("bob", TypeMemoryCreated, nil)

	assert.Equal(t, uint64(1), a1.Seq)
	assert.Equal(t, uint64(2), a2.Seq)
	assert.Equal(t, uint64(1), b1.Seq)
	assert.NotEqual(t, a1.ID, a2.ID)
	assert.Equal(t, DefaultUser, bus.Publish("", TypeMemoryCreated, nil).UserID)
}

func TestSubscriber_DropsOldestWhenFull(t *testing.T) {
	m := metrics.NewCollector("test")
	bus := NewBus(Config{QueueSize: 3, History: 100}, nil, m)
	sub := bus.Subscribe("alice")

	for i := 0; i < 5; i++ {
		bus.Publish("alice", TypeMemoryCreated, map[string]interface{}{"i": i})
	}

	evs, err := sub.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, []uint64{3, 4, 5}, seqs(evs))
	assert.Equal(t, uint64(2), sub.Dropped())

	// The dropped events consumed sequence numbers and are still in history.
	res := bus.Since("alice", 0)
	assert.True(t, res.Complete)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs(res.Events))
	assert.Equal(t, uint64(5), res.LatestSeq)
}

func TestSince_IncompleteAfterHistoryEviction(t *testing.T) {
	bus := NewBus(Config{QueueSize: 4, History: 3}, nil, nil)
	for i := 0; i < 6; i++ {
		bus.Publish("alice", TypeMemoryUpdated, nil)
	}

	res := bus.Since("alice", 1)
	assert.False(t, res.Complete)
	assert.Equal(t, []uint64{4, 5, 6}, seqs(res.Events))

	res = bus.Since("alice", 3)
	assert.True(t, res.Complete)
	assert.Equal(t, []uint64{4, 5, 6}, seqs(res.Events))

	res = bus.Since("alice", 6)
	assert.True(t, res.Complete)
	assert.Empty(t, res.Events)

	res = bus.Since("nobody", 0)
	assert.True(t, res.Complete)
	assert.Empty(t, res.Events)
}

func TestSubscribe_FiltersByPattern(t *testing.T) {
	bus := NewBus(DefaultConfig(), nil, nil)
	sub := bus.Subscribe("alice", "link.*")

	bus.Publish("alice", TypeMemoryCreated, nil)
	bus.Publish("alice", TypeLinkCreated, nil)
	bus.Publish("bob", TypeLinkCreated, nil)

	evs, err := sub.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, TypeLinkCreated, evs[0].Type)
	assert.Equal(t, uint64(2), evs[0].Seq)
}

func TestSubscriber_PrevSeqIgnoresFilteredEvents(t *testing.T) {
	bus := NewBus(DefaultConfig(), nil, nil)
	sub := bus.Subscribe("alice", "memory.*")

	bus.Publish("alice", TypeMemoryCreated, nil)
	bus.Publish("alice", TypeLinkCreated, nil)
	bus.Publish("alice", TypeLinkCreated, nil)
	bus.Publish("alice", TypeMemoryUpdated, nil)

	evs, err := sub.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, []uint64{1, 4}, seqs(evs))
	assert.Equal(t, uint64(0), evs[0].PrevSeq)
	assert.Equal(t, evs[0].Seq, evs[1].PrevSeq, "filtered events are not a gap")
	assert.Equal(t, uint64(0), sub.Dropped())

	res := bus.Since("alice", 0)
	for _, e := range res.Events {
		assert.Equal(t, e.Seq-1, e.PrevSeq)
	}
}

func TestSubscriber_PrevSeqRevealsDrops(t *testing.T) {
	bus := NewBus(Config{QueueSize: 2, History: 100}, nil, nil)
	sub := bus.Subscribe("alice", "memory.*")

	bus.Publish("alice", TypeMemoryCreated, nil)
	evs, err := sub.Next(context.Background())
	require.NoError(t, err)
	last := evs[len(evs)-1].Seq

	bus.Publish("alice", TypeLinkCreated, nil)
	for i := 0; i < 3; i++ {
		bus.Publish("alice", TypeMemoryUpdated, nil)
	}

	evs, err = sub.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.NotEqual(t, last, evs[0].PrevSeq, "a dropped matching event must show as a gap")
	assert.Equal(t, evs[0].Seq, evs[1].PrevSeq)
	assert.Equal(t, uint64(1), sub.Dropped())
}

func TestSubscriber_NextUnblocksOnUnsubscribe(t *testing.T) {
	bus := NewBus(DefaultConfig(), nil, nil)
	sub := bus.Subscribe("alice")

	done := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	bus.Unsubscribe(sub)

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Unsubscribe")
	}
}

func TestSubscriber_NextHonoursContext(t *testing.T) {
	bus := NewBus(DefaultConfig(), nil, nil)
	sub := bus.Subscribe("alice")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublish_NilBus(t *testing.T) {
	var bus *Bus
	assert.Equal(t, Event{}, bus.Publish("alice", TypeMemoryCreated, nil))
}

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, typ string
		want         bool
	}{
		{"memory.*", "memory.created", true},
		{"memory.*", "link.created", false},
		{"*.deleted", "link.deleted", true},
		{"*.deleted", "link.created", false},
		{"*.*", "memory.obsoleted", true},
		{"*", "migration.progress", true},
		{"link.created", "link.created", true},
		{"memory", "memory.created", false},
	}
	for _, tc := range cases {
		t.Run(tc.pattern+"/"+tc.typ, func(t *testing.T) {
			assert.Equal(t, tc.want, Match(tc.pattern, tc.typ))
		})
	}
	assert.Equal(t, []string{"memory.*", "link.deleted"}, ParsePatterns(" memory.* ,,link.deleted"))
}

func TestUserContext(t *testing.T) {
	assert.Equal(t, DefaultUser, UserFromContext(context.Background()))
	assert.Equal(t, "alice", UserFromContext(WithUser(context.Background(), "alice")))
}

func TestWebSocketHandler_ReplaysAndPushes(t *testing.T) {
	bus := NewBus(DefaultConfig(), nil, nil)
	bus.Publish("alice", TypeMemoryCreated, map[string]interface{}{"memory_id": 1})
	bus.Publish("alice", TypeMemoryCreated, map[string]interface{}{"memory_id": 2})

	h := NewWebSocketHandler(bus, nil, func(r *http.Request) string { return "alice" }, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?since=1&patterns=memory.*"
	conn, _, err := websocket.Dial(ctx, url, nil) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	var first Event
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, uint64(2), first.Seq)

	// Wait until the handler has subscribed before publishing live events.
	require.Eventually(t, func() bool { return subscriberCount(bus, "alice") == 1 }, 2*time.Second, 5*time.Millisecond)
	bus.Publish("alice", TypeLinkCreated, nil)
	bus.Publish("alice", TypeMemoryUpdated, nil)

	var next Event
	require.NoError(t, wsjson.Read(ctx, conn, &next))
	assert.Equal(t, TypeMemoryUpdated, next.Type)
	assert.Equal(t, uint64(4), next.Seq)
	assert.Equal(t, first.Seq, next.PrevSeq, "the filtered link event is not a gap")
}

func TestWebSocketHandler_RejectsBadSince(t *testing.T) {
	bus := NewBus(DefaultConfig(), nil, nil)
	h := NewWebSocketHandler(bus, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/events/ws?since=abc", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRing_Wraps(t *testing.T) {
	r := newRing(2)
	assert.False(t, r.push(Event{Seq: 1}))
	assert.False(t, r.push(Event{Seq: 2}))
	assert.True(t, r.push(Event{Seq: 3}))
	assert.Equal(t, []uint64{2, 3}, seqs(r.snapshot()))
	assert.Equal(t, []uint64{2, 3}, seqs(r.drain()))
	assert.Equal(t, 0, r.len())
}

func seqs(evs []Event) []uint64 {
	out := make([]uint64, len(evs))
	for i, e := range evs {
		out[i] = e.Seq
	}
	return out
}

func subscriberCount(b *Bus, userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[userID]
	if !ok {
		return 0
	}
	return len(st.subs)
}

func ExampleMatch() {
	fmt.Println(Match("memory.*", "memory.created"))
	// Output: true
}
