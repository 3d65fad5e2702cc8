package repository

import (
	"context"

	"github.com/deividyBarbosa/Transcend-sub001/internal/models"
)

// MessageRepository persists message rows with content encrypted at rest via
// pgcrypto (AES-256). The symmetric key lives in server config and only ever
// crosses the wire between this process and Postgres; rows are decrypted
// inside the SELECT for authorized reads.
type MessageRepository struct {
	db            DBTX
	encryptionKey string
}

func NewMessageRepository(db DBTX, encryptionKey string) *MessageRepository {
	return &MessageRepository{db: db, encryptionKey: encryptionKey}
}

func (r *MessageRepository) Create(
	ctx context.Context,
	conversationID int64,
	senderID int64,
	content string,
	kind string,
	clientKey *string,
) (*models.Message, error) {
	query := `
		INSERT INTO messages (conversation_id, sender_id, conteudo, tipo, chave_cliente)
		VALUES ($1, $2, pgp_sym_encrypt($3, $4, 'cipher-algo=aes256'), $5, $6)
		RETURNING id, conversation_id, sender_id, tipo, lida, lida_em, chave_cliente, criado_em
	`

	var message models.Message
	err := r.db.QueryRow(ctx, query, conversationID, senderID, content, r.encryptionKey, kind, clientKey).Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Kind,
		&message.Read,
		&message.ReadAt,
		&message.ClientKey,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	message.Content = content
	return &message, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id,
			pgp_sym_decrypt(conteudo, $2), tipo, lida, lida_em, chave_cliente, criado_em
		FROM messages
		WHERE id = $1
	`

	var message models.Message
	err := r.db.QueryRow(ctx, query, messageID, r.encryptionKey).Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&message.Kind,
		&message.Read,
		&message.ReadAt,
		&message.ClientKey,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// GetByClientKey resolves a previously persisted message by its
// client-generated idempotency key.
func (r *MessageRepository) GetByClientKey(ctx context.Context, clientKey string) (*models.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id,
			pgp_sym_decrypt(conteudo, $2), tipo, lida, lida_em, chave_cliente, criado_em
		FROM messages
		WHERE chave_cliente = $1
	`

	var message models.Message
	err := r.db.QueryRow(ctx, query, clientKey, r.encryptionKey).Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&message.Kind,
		&message.Read,
		&message.ReadAt,
		&message.ClientKey,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// ListByConversation pages through a conversation's history newest-first.
// Within one page messages keep store order; the (criado_em, id) sort key is
// stable, so a re-fetch of the same window never reorders.
func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
	limit int,
	offset int,
) ([]models.Message, int, error) {
	totalQuery := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
	`

	var total int
	if err := r.db.QueryRow(ctx, totalQuery, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, conversation_id, sender_id,
			pgp_sym_decrypt(conteudo, $2), tipo, lida, lida_em, chave_cliente, criado_em
		FROM messages
		WHERE conversation_id = $1
		ORDER BY criado_em DESC, id DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Query(ctx, query, conversationID, r.encryptionKey, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var message models.Message
		if err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.SenderID,
			&message.Content,
			&message.Kind,
			&message.Read,
			&message.ReadAt,
			&message.ClientKey,
			&message.CreatedAt,
		); err != nil {
			return nil, 0, err
		}

		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// MarkRead applies the one-way unread -> read transition. Messages sent by
// the reader and messages already read are left untouched, which makes the
// call idempotent.
func (r *MessageRepository) MarkRead(
	ctx context.Context,
	messageID int64,
	readerID int64,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages
		SET lida = TRUE, lida_em = NOW()
		WHERE id = $1
		  AND sender_id <> $2
		  AND lida = FALSE
	`, messageID, readerID)
	return err
}

// MarkConversationRead flips every counterpart message in the conversation
// to read in one statement.
func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages
		SET lida = TRUE, lida_em = NOW()
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND lida = FALSE
	`, conversationID, readerID)
	return err
}
