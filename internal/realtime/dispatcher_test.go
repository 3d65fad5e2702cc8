package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/deividyBarbosa/Transcend-sub001/internal/models"
)

type fakeFeedSubscription struct {
	events chan FeedEvent

	mu     sync.Mutex
	closed bool
}

func (s *fakeFeedSubscription) Events() <-chan FeedEvent {
	return s.events
}

func (s *fakeFeedSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *fakeFeedSubscription) deliver(channel string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- FeedEvent{Channel: channel, Payload: payload}
}

type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeFeedSubscription
}

func (f *fakeFeed) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		sub.deliver(channel, payload)
	}
	return nil
}

func (f *fakeFeed) Subscribe(ctx context.Context, channels ...string) (FeedSubscription, error) {
	sub := &fakeFeedSubscription{events: make(chan FeedEvent, 16)}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub, nil
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for callback")
	}
}

func TestDispatcherSingleSubscriptionPerKey(t *testing.T) {
	feed := &fakeFeed{}
	d := NewDispatcher(feed, zap.NewNop())

	sub, err := d.SubscribeConversation(context.Background(), 7, Callbacks{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer d.Unsubscribe(sub)

	if _, err := d.SubscribeConversation(context.Background(), 7, Callbacks{}); err != ErrAlreadySubscribed {
		t.Fatalf("Expected ErrAlreadySubscribed, got %v", err)
	}

	// A different conversation is unaffected.
	other, err := d.SubscribeConversation(context.Background(), 8, Callbacks{})
	if err != nil {
		t.Fatalf("Expected no error for other key, got %v", err)
	}
	d.Unsubscribe(other)
}

func TestDispatcherResubscribeAfterUnsubscribe(t *testing.T) {
	feed := &fakeFeed{}
	d := NewDispatcher(feed, zap.NewNop())

	sub, err := d.SubscribeConversation(context.Background(), 3, Callbacks{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	d.Unsubscribe(sub)

	again, err := d.SubscribeConversation(context.Background(), 3, Callbacks{})
	if err != nil {
		t.Fatalf("Expected resubscribe to succeed, got %v", err)
	}
	d.Unsubscribe(again)
}

func TestDispatcherDeliversMessagesInOrder(t *testing.T) {
	feed := &fakeFeed{}
	d := NewDispatcher(feed, zap.NewNop())

	var mu sync.Mutex
	var got []int64
	received := make(chan struct{}, 8)

	sub, err := d.SubscribeConversation(context.Background(), 5, Callbacks{
		OnMessage: func(m models.Message) {
			mu.Lock()
			got = append(got, m.ID)
			mu.Unlock()
			received <- struct{}{}
		},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer d.Unsubscribe(sub)

	for i := int64(1); i <= 3; i++ {
		payload, err := NewMessageEvent(&models.Message{ID: i, ConversationID: 5})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if err := feed.Publish(context.Background(), ConversationChannel(5), payload); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		waitFor(t, received)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(got))
	}
	for i, id := range []int64{1, 2, 3} {
		if got[i] != id {
			t.Errorf("Expected message %d at position %d, got %d", id, i, got[i])
		}
	}
}

func TestDispatcherRoutesEventKinds(t *testing.T) {
	feed := &fakeFeed{}
	d := NewDispatcher(feed, zap.NewNop())

	gotConversation := make(chan models.Conversation, 1)
	gotPresence := make(chan models.PresenceSnapshot, 1)

	sub, err := d.SubscribeConversation(context.Background(), 9, Callbacks{
		OnConversationUpdate: func(c models.Conversation) { gotConversation <- c },
		OnPresence:           func(s models.PresenceSnapshot) { gotPresence <- s },
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer d.Unsubscribe(sub)

	convPayload, _ := NewConversationEvent(&models.Conversation{ID: 9, UnreadPatient: 2})
	if err := feed.Publish(context.Background(), ConversationChannel(9), convPayload); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	snapshot := models.PresenceSnapshot{
		42: {{UserID: 42, Online: true, UpdatedAt: time.Now().UTC()}},
	}
	presencePayload, _ := NewPresenceEvent(snapshot)
	channel := PresenceChannel(ConversationPresenceKey(9))
	if err := feed.Publish(context.Background(), channel, presencePayload); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	select {
	case c := <-gotConversation:
		if c.ID != 9 || c.UnreadPatient != 2 {
			t.Errorf("Expected conversation 9 with 2 unread, got %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for conversation event")
	}

	select {
	case s := <-gotPresence:
		if len(s[42]) != 1 || !s[42][0].Online {
			t.Errorf("Expected user 42 online in snapshot, got %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for presence event")
	}
}

func TestDispatcherSkipsMalformedEvents(t *testing.T) {
	feed := &fakeFeed{}
	d := NewDispatcher(feed, zap.NewNop())

	received := make(chan models.Message, 1)
	sub, err := d.SubscribeConversation(context.Background(), 4, Callbacks{
		OnMessage: func(m models.Message) { received <- m },
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer d.Unsubscribe(sub)

	if err := feed.Publish(context.Background(), ConversationChannel(4), []byte("not json")); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	bad, _ := json.Marshal(Envelope{Kind: "desconhecido", Data: json.RawMessage(`{}`)})
	if err := feed.Publish(context.Background(), ConversationChannel(4), bad); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	good, _ := NewMessageEvent(&models.Message{ID: 11, ConversationID: 4})
	if err := feed.Publish(context.Background(), ConversationChannel(4), good); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	select {
	case m := <-received:
		if m.ID != 11 {
			t.Errorf("Expected message 11, got %d", m.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for surviving event")
	}
}

func TestDispatcherUnsubscribeStopsDelivery(t *testing.T) {
	feed := &fakeFeed{}
	d := NewDispatcher(feed, zap.NewNop())

	var count int
	var mu sync.Mutex
	sub, err := d.SubscribeConversation(context.Background(), 6, Callbacks{
		OnMessage: func(models.Message) {
			mu.Lock()
			count++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	d.Unsubscribe(sub)

	payload, _ := NewMessageEvent(&models.Message{ID: 1, ConversationID: 6})
	_ = feed.Publish(context.Background(), ConversationChannel(6), payload)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("Expected no deliveries after unsubscribe, got %d", count)
	}

	// Second unsubscribe is a no-op.
	d.Unsubscribe(sub)
}

func TestDispatcherUnsubscribeAll(t *testing.T) {
	feed := &fakeFeed{}
	d := NewDispatcher(feed, zap.NewNop())

	if _, err := d.SubscribeConversation(context.Background(), 1, Callbacks{}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := d.SubscribeUser(context.Background(), 2, Callbacks{}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	d.UnsubscribeAll()

	// All keys are free again.
	sub, err := d.SubscribeConversation(context.Background(), 1, Callbacks{})
	if err != nil {
		t.Fatalf("Expected resubscribe after UnsubscribeAll, got %v", err)
	}
	d.Unsubscribe(sub)
}
