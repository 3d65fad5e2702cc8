package chatws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/deividyBarbosa/Transcend-sub001/internal/models"
	"github.com/deividyBarbosa/Transcend-sub001/internal/realtime"
	"github.com/deividyBarbosa/Transcend-sub001/internal/services"
)

type fakeFeedSubscription struct {
	events chan realtime.FeedEvent

	mu     sync.Mutex
	closed bool
}

func (s *fakeFeedSubscription) Events() <-chan realtime.FeedEvent {
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
	s.events <- realtime.FeedEvent{Channel: channel, Payload: payload}
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

func (f *fakeFeed) Subscribe(ctx context.Context, channels ...string) (realtime.FeedSubscription, error) {
	sub := &fakeFeedSubscription{events: make(chan realtime.FeedEvent, 16)}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub, nil
}

type fakePresenceStore struct {
	setCalls int
	records  map[string]map[int64]models.PresenceRecord
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{records: make(map[string]map[int64]models.PresenceRecord)}
}

func (s *fakePresenceStore) Set(ctx context.Context, channelKey string, record models.PresenceRecord, ttl time.Duration) error {
	s.setCalls++
	if s.records[channelKey] == nil {
		s.records[channelKey] = make(map[int64]models.PresenceRecord)
	}
	s.records[channelKey][record.UserID] = record
	return nil
}

func (s *fakePresenceStore) Clear(ctx context.Context, channelKey string, userID int64) error {
	delete(s.records[channelKey], userID)
	return nil
}

func (s *fakePresenceStore) Snapshot(ctx context.Context, channelKey string) (models.PresenceSnapshot, error) {
	snapshot := make(models.PresenceSnapshot)
	for userID, record := range s.records[channelKey] {
		snapshot[userID] = append(snapshot[userID], record)
	}
	return snapshot, nil
}

type fakeChatAccess struct {
	conversation *models.Conversation
	authErr      error
	delivery     *services.ChatDelivery
	sendErr      error
}

func (s *fakeChatAccess) SendMessage(ctx context.Context, actorID int64, conversationID int64, content string, kind string, clientKey *string) (*services.ChatDelivery, error) {
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return s.delivery, nil
}

func (s *fakeChatAccess) ConversationForParticipant(ctx context.Context, actorID int64, conversationID int64) (*models.Conversation, error) {
	if s.authErr != nil {
		return nil, s.authErr
	}
	return s.conversation, nil
}

type testFrame struct {
	Type  string          `json:"tipo"`
	Error string          `json:"erro"`
	Data  json.RawMessage `json:"dados"`
}

func nextFrame(t *testing.T, c *Client) testFrame {
	t.Helper()
	select {
	case payload := <-c.send:
		var frame testFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			t.Fatalf("Expected valid frame, got %v", err)
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for frame")
		return testFrame{}
	}
}

func newTestClient(userID int64, feed *fakeFeed, store *fakePresenceStore) *Client {
	hub := NewHub(zap.NewNop())
	presence := services.NewPresenceService(store, feed, zap.NewNop())
	return NewClient(hub, nil, userID, feed, presence)
}

func TestSubscribeRejectsNonParticipant(t *testing.T) {
	feed := &fakeFeed{}
	store := newFakePresenceStore()
	client := newTestClient(99, feed, store)
	service := &fakeChatAccess{authErr: services.ErrPermissionDenied}

	client.handleSubscribe(service, 42)

	if len(client.subs) != 0 {
		t.Fatalf("Expected no subscription for an outsider, got %d", len(client.subs))
	}
	if store.setCalls != 0 {
		t.Errorf("Expected no presence entry for an outsider")
	}

	frame := nextFrame(t, client)
	if frame.Type != "erro" || frame.Error != "permission denied" {
		t.Errorf("Expected permission denied error frame, got %+v", frame)
	}

	// Events published to the conversation must never reach this client.
	payload, err := realtime.NewMessageEvent(&models.Message{
		ID: 1, ConversationID: 42, SenderID: 1, Content: "conteudo confidencial",
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := feed.Publish(context.Background(), realtime.ConversationChannel(42), payload); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	select {
	case raw := <-client.send:
		t.Fatalf("Expected no delivery to an outsider, got %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeUnknownConversation(t *testing.T) {
	feed := &fakeFeed{}
	client := newTestClient(1, feed, newFakePresenceStore())
	service := &fakeChatAccess{authErr: services.ErrConversationNotFound}

	client.handleSubscribe(service, 42)

	if len(client.subs) != 0 {
		t.Fatalf("Expected no subscription, got %d", len(client.subs))
	}
	frame := nextFrame(t, client)
	if frame.Type != "erro" || frame.Error != "conversation not found" {
		t.Errorf("Expected conversation not found error frame, got %+v", frame)
	}
}

func TestSubscribeParticipantReceivesEvents(t *testing.T) {
	feed := &fakeFeed{}
	store := newFakePresenceStore()
	client := newTestClient(1, feed, store)
	defer client.dispatcher.UnsubscribeAll()
	service := &fakeChatAccess{conversation: &models.Conversation{
		ID: 42, PatientID: 1, PsychologistID: 2, Active: true,
	}}

	client.handleSubscribe(service, 42)

	if _, active := client.subs[42]; !active {
		t.Fatal("Expected active subscription for a participant")
	}
	if store.setCalls == 0 {
		t.Errorf("Expected presence set on subscribe")
	}

	payload, err := realtime.NewMessageEvent(&models.Message{
		ID: 7, ConversationID: 42, SenderID: 2, Content: "oi",
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := feed.Publish(context.Background(), realtime.ConversationChannel(42), payload); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-client.send:
			var frame testFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				t.Fatalf("Expected valid frame, got %v", err)
			}
			if frame.Type != "mensagem" {
				continue
			}
			var message models.Message
			if err := json.Unmarshal(frame.Data, &message); err != nil {
				t.Fatalf("Expected message payload, got %v", err)
			}
			if message.ID != 7 {
				t.Fatalf("Expected message 7, got %d", message.ID)
			}
			return
		case <-deadline:
			t.Fatal("Timed out waiting for message frame")
		}
	}
}
