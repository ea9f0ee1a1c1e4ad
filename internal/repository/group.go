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

type GroupRepository struct {
	pool *pgxpool.Pool
}

func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// Create inserts the group and its member rows in one transaction. The
// admin is always a member.
func (r *GroupRepository) Create(ctx context.Context, g *model.Group) error {
	defer logger.DeferLogDuration("group.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("groupRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO groups (id, name, description, group_image, admin_id, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		g.ID, g.Name, g.Description, g.GroupImage, g.AdminID, g.IsActive, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("groupRepo.Create: %w", err)
	}
	for _, uid := range g.MemberIDs {
		role := "member"
		if uid == g.AdminID {
			role = "admin"
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO group_members (group_id, user_id, role, joined_at)
			 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
			g.ID, uid, role, g.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("groupRepo.Create member: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("groupRepo.Create commit: %w", err)
	}
	return nil
}

func (r *GroupRepository) GetByID(ctx context.Context, id string) (*model.Group, error) {
	defer logger.DeferLogDuration("group.GetByID", time.Now())()
	g := &model.Group{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description, group_image, admin_id, last_message_id, is_active, created_at, updated_at
		 FROM groups WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.GroupImage, &g.AdminID, &g.LastMessageID, &g.IsActive, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("groupRepo.GetByID: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT gm.user_id, gm.role FROM group_members gm WHERE gm.group_id = $1`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("groupRepo.GetByID members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var uid, role string
		if err := rows.Scan(&uid, &role); err != nil {
			return nil, fmt.Errorf("groupRepo.GetByID members scan: %w", err)
		}
		g.MemberIDs = append(g.MemberIDs, uid)
		if role == "moderator" {
			g.ModeratorIDs = append(g.ModeratorIDs, uid)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("groupRepo.GetByID members rows: %w", err)
	}
	return g, nil
}

// GetByIDWithMembers loads the group plus member display metadata.
func (r *GroupRepository) GetByIDWithMembers(ctx context.Context, id string) (*model.Group, error) {
	defer logger.DeferLogDuration("group.GetByIDWithMembers", time.Now())()
	g, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.username, u.email, u.profile_photo, u.is_assistant, u.is_online, u.last_seen_at
		 FROM users u JOIN group_members gm ON gm.user_id = u.id
		 WHERE gm.group_id = $1 ORDER BY u.username`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("groupRepo.GetByIDWithMembers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p model.UserPublic
		if err := rows.Scan(&p.ID, &p.Username, &p.Email, &p.ProfilePhoto, &p.IsAssistant, &p.IsOnline, &p.LastSeenAt); err != nil {
			return nil, fmt.Errorf("groupRepo.GetByIDWithMembers scan: %w", err)
		}
		g.Members = append(g.Members, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("groupRepo.GetByIDWithMembers rows: %w", err)
	}
	return g, nil
}

// GroupsForUser returns the ids of active groups the user belongs to. Used
// to seed room subscriptions at connection time.
func (r *GroupRepository) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("group.GroupsForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT g.id FROM groups g
		 JOIN group_members gm ON gm.group_id = g.id
		 WHERE gm.user_id = $1 AND g.is_active`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("groupRepo.GroupsForUser: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("groupRepo.GroupsForUser scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("groupRepo.GroupsForUser rows: %w", err)
	}
	return ids, nil
}

// MemberIDs returns the user ids of a group's members.
func (r *GroupRepository) MemberIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1`, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("groupRepo.MemberIDs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("groupRepo.MemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("groupRepo.MemberIDs rows: %w", err)
	}
	return ids, nil
}

// ListForUser returns full group records for the user's group list view.
func (r *GroupRepository) ListForUser(ctx context.Context, userID string) ([]model.Group, error) {
	defer logger.DeferLogDuration("group.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT g.id, g.name, g.description, g.group_image, g.admin_id, g.last_message_id, g.is_active, g.created_at, g.updated_at
		 FROM groups g
		 JOIN group_members gm ON gm.group_id = g.id
		 WHERE gm.user_id = $1 AND g.is_active
		 ORDER BY g.updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("groupRepo.ListForUser: %w", err)
	}
	defer rows.Close()
	var groups []model.Group
	for rows.Next() {
		var g model.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.GroupImage, &g.AdminID, &g.LastMessageID, &g.IsActive, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("groupRepo.ListForUser scan: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("groupRepo.ListForUser rows: %w", err)
	}
	return groups, nil
}

func (r *GroupRepository) Update(ctx context.Context, id, name, description, groupImage string) error {
	defer logger.DeferLogDuration("group.Update", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE groups SET name = $1, description = $2, group_image = $3, updated_at = $4 WHERE id = $5`,
		name, description, groupImage, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("groupRepo.Update: %w", err)
	}
	return nil
}

func (r *GroupRepository) AddMember(ctx context.Context, groupID, userID string) error {
	defer logger.DeferLogDuration("group.AddMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id, role, joined_at)
		 VALUES ($1, $2, 'member', $3) ON CONFLICT DO NOTHING`,
		groupID, userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("groupRepo.AddMember: %w", err)
	}
	return nil
}

func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	defer logger.DeferLogDuration("group.RemoveMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("groupRepo.RemoveMember: %w", err)
	}
	return nil
}

func (r *GroupRepository) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	defer logger.DeferLogDuration("group.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("groupRepo.IsMember: %w", err)
	}
	return exists, nil
}

// SetLastMessage updates the group's denormalized last-message pointer.
func (r *GroupRepository) SetLastMessage(ctx context.Context, groupID, messageID string) error {
	defer logger.DeferLogDuration("group.SetLastMessage", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE groups SET last_message_id = $1, updated_at = $2 WHERE id = $3`,
		messageID, time.Now().UTC(), groupID,
	)
	if err != nil {
		return fmt.Errorf("groupRepo.SetLastMessage: %w", err)
	}
	return nil
}
