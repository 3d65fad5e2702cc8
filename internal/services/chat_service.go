package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/deividyBarbosa/Transcend-sub001/internal/models"
	"github.com/deividyBarbosa/Transcend-sub001/internal/realtime"
	"github.com/deividyBarbosa/Transcend-sub001/internal/repository"
)

const previewLength = 80

// DBPool is the slice of pgxpool.Pool the chat service needs: plain queries
// plus transactions for the insert-and-bump-counter pair.
type DBPool interface {
	repository.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// ChatService implements the conversation registry and the message channel:
// find-or-create of patient/psychologist conversations, ordered message
// delivery with encrypted persistence, unread bookkeeping, and read-state
// transitions. After each committed write it publishes change-feed events;
// event publishing is best-effort and never fails the write.
type ChatService struct {
	db               DBPool
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	userRepo         userReader
	feed             realtime.Feed
	log              *zap.Logger
	encryptionKey    string
	maxMessageLength int
}

// ChatDelivery describes one accepted message: what was stored, the updated
// parent conversation, and who should be notified. Duplicate marks a retry
// that matched an existing idempotency key; nothing new was written.
type ChatDelivery struct {
	Conversation *models.Conversation
	Message      *models.Message
	RecipientID  int64
	Duplicate    bool
}

func NewChatService(
	db DBPool,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	userRepo userReader,
	feed realtime.Feed,
	log *zap.Logger,
	encryptionKey string,
	maxMessageLength int,
) *ChatService {
	if maxMessageLength <= 0 {
		maxMessageLength = 1000
	}
	return &ChatService{
		db:               db,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		userRepo:         userRepo,
		feed:             feed,
		log:              log,
		encryptionKey:    encryptionKey,
		maxMessageLength: maxMessageLength,
	}
}

// FindOrCreateConversation resolves the one conversation between the caller
// and a counterpart of the opposite role, creating it with zero unread
// counters when absent. The store's upsert on the pair constraint is the
// arbiter of uniqueness, so concurrent calls converge on a single row.
func (s *ChatService) FindOrCreateConversation(
	ctx context.Context,
	actorID int64,
	actorRole string,
	counterpartID int64,
) (*models.Conversation, error) {
	if actorID <= 0 {
		return nil, ErrNotAuthenticated
	}
	if actorRole != models.RolePatient && actorRole != models.RolePsychologist {
		return nil, ErrPermissionDenied
	}
	if counterpartID <= 0 || counterpartID == actorID {
		return nil, ErrInvalidInput
	}

	counterpart, err := s.userRepo.GetByID(ctx, counterpartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	var patientID, psychologistID int64
	switch {
	case actorRole == models.RolePatient && counterpart.Role == models.RolePsychologist:
		patientID, psychologistID = actorID, counterpartID
	case actorRole == models.RolePsychologist && counterpart.Role == models.RolePatient:
		patientID, psychologistID = counterpartID, actorID
	default:
		return nil, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.CreateOrGet(ctx, patientID, psychologistID)
	if err != nil {
		return nil, err
	}

	return conversation, nil
}

// ConversationForParticipant resolves a conversation only when the actor
// belongs to it. The realtime layer uses this to authorize feed subscriptions
// before any event reaches a client.
func (s *ChatService) ConversationForParticipant(
	ctx context.Context,
	actorID int64,
	conversationID int64,
) (*models.Conversation, error) {
	if actorID <= 0 {
		return nil, ErrNotAuthenticated
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID)
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// No row either means the conversation does not exist or the actor is
	// not part of it; tell the two apart for the caller.
	if _, err := s.conversationRepo.GetByID(ctx, conversationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return nil, ErrPermissionDenied
}

// ListConversations returns the caller's conversations ordered by most
// recent activity, with the counterpart's name and photo denormalized by
// the store.
func (s *ChatService) ListConversations(
	ctx context.Context,
	actorID int64,
) ([]models.ConversationSummary, error) {
	if actorID <= 0 {
		return nil, ErrNotAuthenticated
	}

	return s.conversationRepo.ListForParticipant(ctx, actorID)
}

// SendMessage persists one message and bumps the recipient's unread counter
// in a single transaction, then emits change-feed events. A client key makes
// retries idempotent: a key already seen returns the stored message instead
// of writing a duplicate.
func (s *ChatService) SendMessage(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	content string,
	kind string,
	clientKey *string,
) (*ChatDelivery, error) {
	if actorID <= 0 {
		return nil, ErrNotAuthenticated
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" || len([]rune(trimmed)) > s.maxMessageLength {
		return nil, ErrInvalidInput
	}

	if kind == "" {
		kind = models.MessageKindText
	}
	if kind != models.MessageKindText && kind != models.MessageKindImage && kind != models.MessageKindFile {
		return nil, ErrInvalidInput
	}

	if clientKey != nil {
		if _, err := uuid.Parse(*clientKey); err != nil {
			return nil, ErrInvalidInput
		}
	}

	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conversation.IsParticipant(actorID) {
		return nil, ErrPermissionDenied
	}
	if !conversation.Active {
		return nil, ErrPermissionDenied
	}

	if clientKey != nil {
		existing, err := s.messageRepo.GetByClientKey(ctx, *clientKey)
		if err == nil {
			// A key is only a retry of the caller's own send into this
			// conversation; anyone replaying an observed key is rejected.
			if existing.SenderID != actorID || existing.ConversationID != conversationID {
				return nil, ErrInvalidInput
			}
			return &ChatDelivery{
				Conversation: conversation,
				Message:      existing,
				RecipientID:  conversation.CounterpartID(actorID),
				Duplicate:    true,
			}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx, s.encryptionKey)
	txConversationRepo := repository.NewConversationRepository(tx)

	message, err := txMessageRepo.Create(ctx, conversationID, actorID, trimmed, kind, clientKey)
	if err != nil {
		if isUniqueViolation(err) && clientKey != nil {
			// Lost a race against a concurrent retry with the same key.
			existing, lookupErr := s.messageRepo.GetByClientKey(ctx, *clientKey)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing.SenderID != actorID || existing.ConversationID != conversationID {
				return nil, ErrInvalidInput
			}
			return &ChatDelivery{
				Conversation: conversation,
				Message:      existing,
				RecipientID:  conversation.CounterpartID(actorID),
				Duplicate:    true,
			}, nil
		}
		return nil, err
	}

	updated, err := txConversationRepo.RecordMessage(ctx, conversationID, actorID, messagePreview(trimmed, kind))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.publishMessage(message)
	s.publishConversation(updated)

	return &ChatDelivery{
		Conversation: updated,
		Message:      message,
		RecipientID:  updated.CounterpartID(actorID),
	}, nil
}

// FetchHistory pages through a conversation's messages newest-first: page 1
// holds the most recent messages, each page internally ordered newest to
// oldest. The (criado_em, id) sort key keeps a stable window across
// re-fetches.
func (s *ChatService) FetchHistory(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	page int,
	limit int,
) ([]models.Message, int, error) {
	if actorID <= 0 {
		return nil, 0, ErrNotAuthenticated
	}
	if conversationID <= 0 || page <= 0 || limit <= 0 {
		return nil, 0, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrConversationNotFound
		}
		return nil, 0, err
	}
	if !conversation.IsParticipant(actorID) {
		return nil, 0, ErrPermissionDenied
	}

	return s.messageRepo.ListByConversation(ctx, conversationID, limit, (page-1)*limit)
}

// MarkConversationRead resets the caller's unread counter and flips the
// counterpart's messages to read. A no-op when the counter is already zero.
// The counterpart observes the new counter through the next conversation
// update event.
func (s *ChatService) MarkConversationRead(
	ctx context.Context,
	actorID int64,
	conversationID int64,
) (*models.Conversation, error) {
	if actorID <= 0 {
		return nil, ErrNotAuthenticated
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conversation.IsParticipant(actorID) {
		return nil, ErrPermissionDenied
	}

	if conversation.UnreadFor(actorID) == 0 {
		return conversation, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx, s.encryptionKey)
	txConversationRepo := repository.NewConversationRepository(tx)

	if err := txMessageRepo.MarkConversationRead(ctx, conversationID, actorID); err != nil {
		return nil, err
	}

	updated, err := txConversationRepo.ResetUnread(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.publishConversation(updated)
	return updated, nil
}

// MarkMessageRead applies the one-way unread -> read transition for a single
// message. Idempotent: marking an already-read message, or one's own
// message, is a silent no-op.
func (s *ChatService) MarkMessageRead(
	ctx context.Context,
	actorID int64,
	messageID int64,
) error {
	if actorID <= 0 {
		return ErrNotAuthenticated
	}
	if messageID <= 0 {
		return ErrInvalidInput
	}

	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrMessageNotFound
		}
		return err
	}

	conversation, err := s.conversationRepo.GetByID(ctx, message.ConversationID)
	if err != nil {
		return err
	}
	if !conversation.IsParticipant(actorID) {
		return ErrPermissionDenied
	}

	if message.Read || message.SenderID == actorID {
		return nil
	}

	if err := s.messageRepo.MarkRead(ctx, messageID, actorID); err != nil {
		return err
	}

	// Re-read for the store-assigned lida_em before broadcasting the update.
	updated, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		s.log.Warn("read receipt not broadcast", zap.Int64("message_id", messageID), zap.Error(err))
		return nil
	}
	s.publishMessage(updated)

	return nil
}

func (s *ChatService) publishMessage(message *models.Message) {
	payload, err := realtime.NewMessageEvent(message)
	if err != nil {
		s.log.Warn("encode message event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.feed.Publish(ctx, realtime.ConversationChannel(message.ConversationID), payload); err != nil {
		s.log.Warn("publish message event",
			zap.Int64("conversation_id", message.ConversationID),
			zap.Error(err))
	}
}

func (s *ChatService) publishConversation(conversation *models.Conversation) {
	payload, err := realtime.NewConversationEvent(conversation)
	if err != nil {
		s.log.Warn("encode conversation event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	channels := []string{
		realtime.ConversationChannel(conversation.ID),
		realtime.UserChannel(conversation.PatientID),
		realtime.UserChannel(conversation.PsychologistID),
	}
	for _, channel := range channels {
		if err := s.feed.Publish(ctx, channel, payload); err != nil {
			s.log.Warn("publish conversation event",
				zap.String("channel", channel),
				zap.Error(err))
		}
	}
}

func messagePreview(content, kind string) string {
	switch kind {
	case models.MessageKindImage:
		return "[imagem]"
	case models.MessageKindFile:
		return "[arquivo]"
	}

	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength])
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func FormatChatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
