package models

import "time"

const (
	MessageKindText  = "texto"
	MessageKindImage = "imagem"
	MessageKindFile  = "arquivo"
)

// Conversation is a persistent 1:1 thread between one patient and one
// psychologist. At most one active conversation exists per pair; the
// database enforces uniqueness on (paciente_id, psicologo_id).
type Conversation struct {
	ID                 int64      `json:"id"`
	PatientID          int64      `json:"paciente_id"`
	PsychologistID     int64      `json:"psicologo_id"`
	Active             bool       `json:"ativa"`
	UnreadPatient      int        `json:"unread_paciente"`
	UnreadPsychologist int        `json:"unread_psicologo"`
	LastMessagePreview *string    `json:"ultima_mensagem_preview,omitempty"`
	LastMessageAt      *time.Time `json:"ultima_mensagem_em,omitempty"`
	CreatedAt          time.Time  `json:"criado_em"`
	UpdatedAt          time.Time  `json:"atualizado_em"`
}

// UnreadFor returns the unread counter belonging to the given participant.
func (c *Conversation) UnreadFor(userID int64) int {
	if userID == c.PatientID {
		return c.UnreadPatient
	}
	return c.UnreadPsychologist
}

// CounterpartID returns the other participant of the conversation.
func (c *Conversation) CounterpartID(userID int64) int64 {
	if userID == c.PatientID {
		return c.PsychologistID
	}
	return c.PatientID
}

// IsParticipant reports whether userID belongs to the conversation.
func (c *Conversation) IsParticipant(userID int64) bool {
	return userID == c.PatientID || userID == c.PsychologistID
}

// Message is one unit of content within a conversation. Content is stored
// encrypted at rest and decrypted server-side for authorized participants;
// the struct always carries plaintext. A message is immutable after creation
// except for the one-way unread -> read transition.
type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversa_id"`
	SenderID       int64      `json:"remetente_id"`
	Content        string     `json:"conteudo"`
	Kind           string     `json:"tipo"`
	Read           bool       `json:"lida"`
	ReadAt         *time.Time `json:"lida_em,omitempty"`
	ClientKey      *string    `json:"chave_cliente,omitempty"`
	CreatedAt      time.Time  `json:"criado_em"`
}

// ConversationSummary is a conversation enriched with the counterpart's
// display data for list screens. The join happens store-side.
type ConversationSummary struct {
	Conversation
	CounterpartName  string  `json:"interlocutor_nome"`
	CounterpartPhoto *string `json:"interlocutor_foto,omitempty"`
}

// PresenceRecord is ephemeral per-user state inside a presence channel.
// It is never persisted; records expire with their Redis TTL.
type PresenceRecord struct {
	UserID    int64     `json:"usuario_id"`
	Online    bool      `json:"online"`
	Typing    bool      `json:"digitando"`
	UpdatedAt time.Time `json:"atualizado_em"`
}

// PresenceSnapshot maps each user id in a channel to its presence records.
// Subscribers always receive the full snapshot, never a delta.
type PresenceSnapshot map[int64][]PresenceRecord

// TypingStaleAfter bounds how long a digitando=true record is trusted
// without a refresh from the producer.
const TypingStaleAfter = 5 * time.Second

// Stale reports whether a typing flag should be ignored by consumers.
func (p PresenceRecord) Stale(now time.Time) bool {
	return p.Typing && now.Sub(p.UpdatedAt) > TypingStaleAfter
}
