package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/deividyBarbosa/Transcend-sub001/internal/models"
)

var ErrAlreadySubscribed = errors.New("subscription already active for key")

// Callbacks receives decoded change-feed events. Callbacks run on the feed
// goroutine of their subscription; consumers must treat invocations as
// concurrent with their own actions and apply state atomically.
type Callbacks struct {
	OnMessage            func(models.Message)
	OnConversationUpdate func(models.Conversation)
	OnPresence           func(models.PresenceSnapshot)
}

// Subscription is a handle to one active feed subscription. It must be
// released with Unsubscribe on every exit path.
type Subscription struct {
	key  string
	feed FeedSubscription
	done chan struct{}
}

// Dispatcher routes change-feed events to typed callbacks. One dispatcher
// serves one client session; it enforces at most one active subscription per
// key, so a conversation never delivers duplicate events to the same session.
type Dispatcher struct {
	feed Feed
	log  *zap.Logger

	mu     sync.Mutex
	active map[string]*Subscription
}

func NewDispatcher(feed Feed, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		feed:   feed,
		log:    log,
		active: make(map[string]*Subscription),
	}
}

// SubscribeConversation opens the feed for one conversation: new messages,
// conversation updates, and presence changes from this point forward. History
// is never replayed; callers fetch it separately and reconcile gaps after
// reconnects the same way.
func (d *Dispatcher) SubscribeConversation(
	ctx context.Context,
	conversationID int64,
	callbacks Callbacks,
) (*Subscription, error) {
	key := ConversationChannel(conversationID)
	channels := []string{
		key,
		PresenceChannel(ConversationPresenceKey(conversationID)),
	}
	return d.subscribe(ctx, key, channels, callbacks)
}

// SubscribeUser opens the caller's personal feed, which carries conversation
// updates for the conversation-list screen.
func (d *Dispatcher) SubscribeUser(
	ctx context.Context,
	userID int64,
	callbacks Callbacks,
) (*Subscription, error) {
	key := UserChannel(userID)
	return d.subscribe(ctx, key, []string{key}, callbacks)
}

func (d *Dispatcher) subscribe(
	ctx context.Context,
	key string,
	channels []string,
	callbacks Callbacks,
) (*Subscription, error) {
	d.mu.Lock()
	if _, exists := d.active[key]; exists {
		d.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	d.mu.Unlock()

	feedSub, err := d.feed.Subscribe(ctx, channels...)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		key:  key,
		feed: feedSub,
		done: make(chan struct{}),
	}

	d.mu.Lock()
	if _, exists := d.active[key]; exists {
		d.mu.Unlock()
		_ = feedSub.Close()
		return nil, ErrAlreadySubscribed
	}
	d.active[key] = sub
	d.mu.Unlock()

	go d.pump(sub, callbacks)
	return sub, nil
}

// pump drains one feed subscription in arrival order, so events for a
// conversation reach callbacks in the order the store assigned them.
func (d *Dispatcher) pump(sub *Subscription, callbacks Callbacks) {
	defer close(sub.done)

	for event := range sub.feed.Events() {
		var envelope Envelope
		if err := json.Unmarshal(event.Payload, &envelope); err != nil {
			d.log.Warn("discarding undecodable feed event",
				zap.String("channel", event.Channel),
				zap.Error(err))
			continue
		}

		switch envelope.Kind {
		case EventMessage:
			if callbacks.OnMessage == nil {
				continue
			}
			var message models.Message
			if err := json.Unmarshal(envelope.Data, &message); err != nil {
				d.log.Warn("discarding malformed message event", zap.Error(err))
				continue
			}
			callbacks.OnMessage(message)
		case EventConversation:
			if callbacks.OnConversationUpdate == nil {
				continue
			}
			var conversation models.Conversation
			if err := json.Unmarshal(envelope.Data, &conversation); err != nil {
				d.log.Warn("discarding malformed conversation event", zap.Error(err))
				continue
			}
			callbacks.OnConversationUpdate(conversation)
		case EventPresence:
			if callbacks.OnPresence == nil {
				continue
			}
			var snapshot models.PresenceSnapshot
			if err := json.Unmarshal(envelope.Data, &snapshot); err != nil {
				d.log.Warn("discarding malformed presence event", zap.Error(err))
				continue
			}
			callbacks.OnPresence(snapshot)
		default:
			d.log.Warn("discarding feed event of unknown kind",
				zap.String("tipo", string(envelope.Kind)))
		}
	}
}

// Unsubscribe tears the subscription down and waits for its pump to stop, so
// no callback fires after Unsubscribe returns. Safe to call more than once.
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	d.mu.Lock()
	current, exists := d.active[sub.key]
	if exists && current == sub {
		delete(d.active, sub.key)
	}
	d.mu.Unlock()

	if !exists || current != sub {
		return
	}

	_ = sub.feed.Close()
	<-sub.done
}

// UnsubscribeAll releases every active subscription of this session. Called
// on disconnect so no feed connection outlives its client.
func (d *Dispatcher) UnsubscribeAll() {
	d.mu.Lock()
	subs := make([]*Subscription, 0, len(d.active))
	for _, sub := range d.active {
		subs = append(subs, sub)
	}
	d.mu.Unlock()

	for _, sub := range subs {
		d.Unsubscribe(sub)
	}
}
