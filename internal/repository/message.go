package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const msgCols = `m.id, m.sender_id, m.receiver_id, m.group_id, m.content, m.message_type, m.is_group, m.read, m.created_at`

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.GroupID, &m.Content, &m.MessageType, &m.IsGroup, &m.Read, &m.CreatedAt)
}

// Create persists the message and any seeded read receipts, assigning
// CreatedAt. The database enforces the receiver/group exclusivity check.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	if err := m.Validate(); err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, group_id, content, message_type, is_group, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.SenderID, m.ReceiverID, m.GroupID, m.Content, m.MessageType, m.IsGroup, m.Read, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	for _, rr := range m.ReadBy {
		_, err = tx.Exec(ctx,
			`INSERT INTO message_reads (message_id, user_id, read_at)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			m.ID, rr.UserID, rr.ReadAt,
		)
		if err != nil {
			return fmt.Errorf("msgRepo.Create receipt: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Create commit: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+msgCols+` FROM messages m WHERE m.id = $1`, id,
	), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	if m.IsGroup {
		if err := r.loadReceipts(ctx, m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (r *MessageRepository) loadReceipts(ctx context.Context, m *model.Message) error {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, read_at FROM message_reads WHERE message_id = $1`, m.ID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.loadReceipts: %w", err)
	}
	defer rows.Close()
	m.ReadBy = m.ReadBy[:0]
	for rows.Next() {
		var rr model.ReadReceipt
		if err := rows.Scan(&rr.UserID, &rr.ReadAt); err != nil {
			return fmt.Errorf("msgRepo.loadReceipts scan: %w", err)
		}
		m.ReadBy = append(m.ReadBy, rr)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("msgRepo.loadReceipts rows: %w", err)
	}
	return nil
}

// GetConversation returns direct messages between two users in
// chronological order.
func (r *MessageRepository) GetConversation(ctx context.Context, userA, userB string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetConversation", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+` FROM messages m
		 WHERE (m.sender_id = $1 AND m.receiver_id = $2)
		    OR (m.sender_id = $2 AND m.receiver_id = $1)
		 ORDER BY m.created_at ASC
		 LIMIT $3`, userA, userB, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetConversation query: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows, limit)
}

// GetGroupMessages returns a group's messages in chronological order,
// receipts included.
func (r *MessageRepository) GetGroupMessages(ctx context.Context, groupID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetGroupMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+` FROM messages m
		 WHERE m.group_id = $1
		 ORDER BY m.created_at ASC
		 LIMIT $2`, groupID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetGroupMessages query: %w", err)
	}
	msgs, err := func() ([]model.Message, error) {
		defer rows.Close()
		return collectMessages(rows, limit)
	}()
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if err := r.loadReceipts(ctx, &msgs[i]); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

func collectMessages(rows pgx.Rows, capHint int) ([]model.Message, error) {
	msgs := make([]model.Message, 0, capHint)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo rows: %w", err)
	}
	return msgs, nil
}

// AppendGroupRead records a read receipt for a group message. Returns
// false when the reader already had a receipt (the insert is a no-op).
func (r *MessageRepository) AppendGroupRead(ctx context.Context, messageID, userID string, readAt time.Time) (bool, error) {
	defer logger.DeferLogDuration("msg.AppendGroupRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO message_reads (message_id, user_id, read_at)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		messageID, userID, readAt,
	)
	if err != nil {
		return false, fmt.Errorf("msgRepo.AppendGroupRead: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetDirectRead sets the single read flag of a direct message.
func (r *MessageRepository) SetDirectRead(ctx context.Context, messageID string) error {
	defer logger.DeferLogDuration("msg.SetDirectRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET read = true WHERE id = $1 AND NOT is_group`,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SetDirectRead: %w", err)
	}
	return nil
}

// Delete removes a message. Authorization (sender-only, non-group) is the
// caller's responsibility.
func (r *MessageRepository) Delete(ctx context.Context, messageID string) error {
	defer logger.DeferLogDuration("msg.Delete", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("msgRepo.Delete: %w", err)
	}
	return nil
}
