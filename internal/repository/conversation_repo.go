package repository

import (
	"context"

	"github.com/deividyBarbosa/Transcend-sub001/internal/models"
)

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `
	id, paciente_id, psicologo_id, ativa,
	unread_paciente, unread_psicologo,
	ultima_mensagem_preview, ultima_mensagem_em,
	criado_em, atualizado_em
`

// CreateOrGet resolves the single conversation for a (patient, psychologist)
// pair, creating it with zero unread counters when absent. The unique
// constraint on the pair makes concurrent calls converge on one row.
func (r *ConversationRepository) CreateOrGet(
	ctx context.Context,
	patientID int64,
	psychologistID int64,
) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (paciente_id, psicologo_id)
		VALUES ($1, $2)
		ON CONFLICT (paciente_id, psicologo_id)
		DO UPDATE SET atualizado_em = conversations.atualizado_em
		RETURNING ` + conversationColumns

	var conversation models.Conversation
	err := r.db.QueryRow(ctx, query, patientID, psychologistID).Scan(
		&conversation.ID,
		&conversation.PatientID,
		&conversation.PsychologistID,
		&conversation.Active,
		&conversation.UnreadPatient,
		&conversation.UnreadPsychologist,
		&conversation.LastMessagePreview,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &conversation, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1
	`

	var conversation models.Conversation
	err := r.db.QueryRow(ctx, query, conversationID).Scan(
		&conversation.ID,
		&conversation.PatientID,
		&conversation.PsychologistID,
		&conversation.Active,
		&conversation.UnreadPatient,
		&conversation.UnreadPsychologist,
		&conversation.LastMessagePreview,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &conversation, nil
}

func (r *ConversationRepository) GetByIDForParticipant(
	ctx context.Context,
	conversationID int64,
	participantID int64,
) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1 AND (paciente_id = $2 OR psicologo_id = $2)
	`

	var conversation models.Conversation
	err := r.db.QueryRow(ctx, query, conversationID, participantID).Scan(
		&conversation.ID,
		&conversation.PatientID,
		&conversation.PsychologistID,
		&conversation.Active,
		&conversation.UnreadPatient,
		&conversation.UnreadPsychologist,
		&conversation.LastMessagePreview,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &conversation, nil
}

// ListForParticipant returns the participant's conversations ordered by most
// recent activity, each joined with the counterpart's display name and photo.
func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
) ([]models.ConversationSummary, error) {
	query := `
		SELECT
			c.id, c.paciente_id, c.psicologo_id, c.ativa,
			c.unread_paciente, c.unread_psicologo,
			c.ultima_mensagem_preview, c.ultima_mensagem_em,
			c.criado_em, c.atualizado_em,
			u.nome, u.foto_url
		FROM conversations c
		JOIN users u
			ON u.id = CASE WHEN c.paciente_id = $1 THEN c.psicologo_id ELSE c.paciente_id END
		WHERE c.paciente_id = $1 OR c.psicologo_id = $1
		ORDER BY COALESCE(c.ultima_mensagem_em, c.atualizado_em) DESC, c.id DESC
	`

	rows, err := r.db.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var summary models.ConversationSummary
		if err := rows.Scan(
			&summary.ID,
			&summary.PatientID,
			&summary.PsychologistID,
			&summary.Active,
			&summary.UnreadPatient,
			&summary.UnreadPsychologist,
			&summary.LastMessagePreview,
			&summary.LastMessageAt,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&summary.CounterpartName,
			&summary.CounterpartPhoto,
		); err != nil {
			return nil, err
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

// RecordMessage bumps the recipient's unread counter and refreshes the
// last-message preview after a message insert. Runs inside the same
// transaction as the insert so counters never drift from the message log.
func (r *ConversationRepository) RecordMessage(
	ctx context.Context,
	conversationID int64,
	senderID int64,
	preview string,
) (*models.Conversation, error) {
	query := `
		UPDATE conversations
		SET
			unread_paciente = unread_paciente + CASE WHEN paciente_id = $2 THEN 0 ELSE 1 END,
			unread_psicologo = unread_psicologo + CASE WHEN psicologo_id = $2 THEN 0 ELSE 1 END,
			ultima_mensagem_preview = $3,
			ultima_mensagem_em = NOW(),
			atualizado_em = NOW()
		WHERE id = $1
		RETURNING ` + conversationColumns

	var conversation models.Conversation
	err := r.db.QueryRow(ctx, query, conversationID, senderID, preview).Scan(
		&conversation.ID,
		&conversation.PatientID,
		&conversation.PsychologistID,
		&conversation.Active,
		&conversation.UnreadPatient,
		&conversation.UnreadPsychologist,
		&conversation.LastMessagePreview,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &conversation, nil
}

// ResetUnread zeroes the caller's side of the unread counter. A no-op when
// the counter is already zero.
func (r *ConversationRepository) ResetUnread(
	ctx context.Context,
	conversationID int64,
	participantID int64,
) (*models.Conversation, error) {
	query := `
		UPDATE conversations
		SET
			unread_paciente = CASE WHEN paciente_id = $2 THEN 0 ELSE unread_paciente END,
			unread_psicologo = CASE WHEN psicologo_id = $2 THEN 0 ELSE unread_psicologo END,
			atualizado_em = NOW()
		WHERE id = $1
		RETURNING ` + conversationColumns

	var conversation models.Conversation
	err := r.db.QueryRow(ctx, query, conversationID, participantID).Scan(
		&conversation.ID,
		&conversation.PatientID,
		&conversation.PsychologistID,
		&conversation.Active,
		&conversation.UnreadPatient,
		&conversation.UnreadPsychologist,
		&conversation.LastMessagePreview,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &conversation, nil
}
