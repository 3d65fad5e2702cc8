package realtime

import (
	"encoding/json"
	"strconv"

	"github.com/deividyBarbosa/Transcend-sub001/internal/models"
)

type EventKind string

const (
	EventMessage      EventKind = "mensagem"
	EventConversation EventKind = "conversa"
	EventPresence     EventKind = "presenca"
)

// Envelope is the wire shape of every change-feed event. Dados carries the
// kind-specific payload and is decoded by the dispatcher before callbacks run.
type Envelope struct {
	Kind EventKind       `json:"tipo"`
	Data json.RawMessage `json:"dados"`
}

func ConversationChannel(conversationID int64) string {
	return "chat:conv:" + strconv.FormatInt(conversationID, 10)
}

func UserChannel(userID int64) string {
	return "chat:user:" + strconv.FormatInt(userID, 10)
}

func PresenceChannel(channelKey string) string {
	return "presenca:" + channelKey
}

// ConversationPresenceKey names the presence channel shared by the two
// participants of a conversation.
func ConversationPresenceKey(conversationID int64) string {
	return "conv:" + strconv.FormatInt(conversationID, 10)
}

func encodeEnvelope(kind EventKind, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: kind, Data: data})
}

func NewMessageEvent(message *models.Message) ([]byte, error) {
	return encodeEnvelope(EventMessage, message)
}

func NewConversationEvent(conversation *models.Conversation) ([]byte, error) {
	return encodeEnvelope(EventConversation, conversation)
}

func NewPresenceEvent(snapshot models.PresenceSnapshot) ([]byte, error) {
	return encodeEnvelope(EventPresence, snapshot)
}
