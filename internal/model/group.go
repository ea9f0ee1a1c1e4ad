package model

import "time"

type Group struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	GroupImage    string    `json:"group_image"`
	AdminID       string    `json:"admin_id"`
	MemberIDs     []string  `json:"member_ids"`
	ModeratorIDs  []string  `json:"moderator_ids,omitempty"`
	LastMessageID *string   `json:"last_message_id,omitempty"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Admin       *UserPublic  `json:"admin,omitempty"`
	Members     []UserPublic `json:"members,omitempty"`
	LastMessage *Message     `json:"last_message,omitempty"`
}

// HasMember reports whether userID belongs to the group.
func (g *Group) HasMember(userID string) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}
