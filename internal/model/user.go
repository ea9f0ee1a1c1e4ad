package model

import "time"

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	ProfilePhoto string     `json:"profile_photo"`
	IsAssistant  bool       `json:"is_assistant,omitempty"`
	IsOnline     bool       `json:"is_online"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type UserPublic struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	ProfilePhoto string     `json:"profile_photo"`
	IsAssistant  bool       `json:"is_assistant,omitempty"`
	IsOnline     bool       `json:"is_online"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		ProfilePhoto: u.ProfilePhoto,
		IsAssistant:  u.IsAssistant,
		IsOnline:     u.IsOnline,
		LastSeenAt:   u.LastSeenAt,
	}
}
