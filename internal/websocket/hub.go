package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/deividyBarbosa/Transcend-sub001/internal/models"
	"github.com/deividyBarbosa/Transcend-sub001/internal/realtime"
	"github.com/deividyBarbosa/Transcend-sub001/internal/services"
)

// Hub tracks connected websocket clients per user. Event delivery itself
// happens through each client's dispatcher session; the hub only owns
// connection bookkeeping.
type Hub struct {
	log        *zap.Logger
	clients    map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
}

// Client is one websocket session. It owns a dispatcher, its feed
// subscriptions, and the presence entries it created; all three are released
// on every exit path of ReadPump.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	userID     int64
	send       chan []byte
	dispatcher *realtime.Dispatcher
	presence   *services.PresenceService
	limiter    *rate.Limiter
	subs       map[int64]*realtime.Subscription
}

type chatService interface {
	SendMessage(
		ctx context.Context,
		actorID int64,
		conversationID int64,
		content string,
		kind string,
		clientKey *string,
	) (*services.ChatDelivery, error)
	ConversationForParticipant(
		ctx context.Context,
		actorID int64,
		conversationID int64,
	) (*models.Conversation, error)
}

type inboundFrame struct {
	Type           string  `json:"tipo"`
	ConversationID int64   `json:"conversa_id"`
	Content        string  `json:"conteudo"`
	MessageKind    string  `json:"tipo_mensagem"`
	ClientKey      *string `json:"chave_cliente"`
	Typing         bool    `json:"digitando"`
}

type outboundFrame struct {
	Type           string `json:"tipo"`
	ConversationID int64  `json:"conversa_id,omitempty"`
	Data           any    `json:"dados,omitempty"`
	Error          string `json:"erro,omitempty"`
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// NewClient builds a session for an authenticated user. Typing refreshes are
// throttled to two per second with a small burst so keepalives cannot flood
// the presence channel.
func NewClient(
	hub *Hub,
	conn *websocket.Conn,
	userID int64,
	feed realtime.Feed,
	presence *services.PresenceService,
) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		userID:     userID,
		send:       make(chan []byte, 32),
		dispatcher: realtime.NewDispatcher(feed, hub.log),
		presence:   presence,
		limiter:    rate.NewLimiter(rate.Limit(2), 5),
		subs:       make(map[int64]*realtime.Subscription),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			set, ok := h.clients[client.userID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				close(client.send)
			}
			if len(set) == 0 {
				delete(h.clients, client.userID)
			}
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ReadPump consumes frames from the socket until the connection drops. All
// acquired resources are released in the deferred teardown, whichever way
// the loop exits.
func (c *Client) ReadPump(service chatService) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		for conversationID := range c.subs {
			c.presence.ClearPresence(ctx, realtime.ConversationPresenceKey(conversationID), c.userID)
		}
		cancel()
		c.dispatcher.UnsubscribeAll()
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	if _, err := c.dispatcher.SubscribeUser(context.Background(), c.userID, realtime.Callbacks{
		OnConversationUpdate: c.pushConversation,
	}); err != nil {
		c.hub.log.Warn("user feed subscription failed", zap.Int64("user_id", c.userID), zap.Error(err))
		return
	}

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.pushError("invalid frame payload")
			continue
		}

		switch frame.Type {
		case "inscrever":
			c.handleSubscribe(service, frame.ConversationID)
		case "cancelar":
			c.handleUnsubscribe(frame.ConversationID)
		case "mensagem":
			c.handleMessage(service, frame)
		case "digitando":
			c.handleTyping(frame)
		default:
			c.pushError("unsupported frame type")
		}
	}
}

func (c *Client) handleSubscribe(service chatService, conversationID int64) {
	if conversationID <= 0 {
		c.pushError("invalid conversation id")
		return
	}
	if _, active := c.subs[conversationID]; active {
		c.pushError("already subscribed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Only participants may open the feed; everyone else is turned away
	// before any event or presence state can reach them.
	if _, err := service.ConversationForParticipant(ctx, c.userID, conversationID); err != nil {
		switch {
		case errors.Is(err, services.ErrPermissionDenied):
			c.pushError("permission denied")
		case errors.Is(err, services.ErrConversationNotFound):
			c.pushError("conversation not found")
		default:
			c.pushError("subscription failed")
		}
		return
	}

	sub, err := c.dispatcher.SubscribeConversation(context.Background(), conversationID, realtime.Callbacks{
		OnMessage:            func(message models.Message) { c.pushMessage(conversationID, message) },
		OnConversationUpdate: c.pushConversation,
		OnPresence:           func(snapshot models.PresenceSnapshot) { c.pushPresence(conversationID, snapshot) },
	})
	if err != nil {
		c.pushError("subscription failed")
		return
	}
	c.subs[conversationID] = sub

	channelKey := realtime.ConversationPresenceKey(conversationID)
	c.presence.SetPresence(ctx, channelKey, c.userID, true, false)

	// Late joiners get a fresh snapshot instead of historical transitions.
	if snapshot, err := c.presence.Snapshot(ctx, channelKey); err == nil {
		c.pushPresence(conversationID, snapshot)
	}
}

func (c *Client) handleUnsubscribe(conversationID int64) {
	sub, active := c.subs[conversationID]
	if !active {
		return
	}
	delete(c.subs, conversationID)
	c.dispatcher.Unsubscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.presence.ClearPresence(ctx, realtime.ConversationPresenceKey(conversationID), c.userID)
}

func (c *Client) handleMessage(service chatService, frame inboundFrame) {
	delivery, err := service.SendMessage(
		context.Background(),
		c.userID,
		frame.ConversationID,
		frame.Content,
		frame.MessageKind,
		frame.ClientKey,
	)
	if err != nil {
		c.pushError("failed to send message")
		return
	}

	// Duplicates were already delivered by the original send; confirm to the
	// sender only.
	if delivery.Duplicate {
		c.pushMessage(delivery.Message.ConversationID, *delivery.Message)
	}
}

func (c *Client) handleTyping(frame inboundFrame) {
	if frame.ConversationID <= 0 {
		return
	}
	if _, active := c.subs[frame.ConversationID]; !active {
		return
	}
	if !c.limiter.Allow() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.presence.SetPresence(ctx, realtime.ConversationPresenceKey(frame.ConversationID), c.userID, true, frame.Typing)
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (c *Client) pushMessage(conversationID int64, message models.Message) {
	c.push(outboundFrame{Type: "mensagem", ConversationID: conversationID, Data: message})
}

func (c *Client) pushConversation(conversation models.Conversation) {
	c.push(outboundFrame{Type: "conversa", ConversationID: conversation.ID, Data: conversation})
}

func (c *Client) pushPresence(conversationID int64, snapshot models.PresenceSnapshot) {
	c.push(outboundFrame{Type: "presenca", ConversationID: conversationID, Data: snapshot})
}

func (c *Client) pushError(message string) {
	c.push(outboundFrame{Type: "erro", Error: message})
}

func (c *Client) push(frame outboundFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.hub.log.Warn("encode outbound frame", zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
		// Slow consumer: drop the frame rather than block the feed.
	}
}
