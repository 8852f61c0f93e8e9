package types

import (
	"time"
)

type Participant struct {
	Id           int       `json:"id"`
	Name         string    `json:"name"`
	EmailAddress string    `json:"email_address,omitempty"`
	Role         string    `json:"role,omitempty"`
	Online       bool      `json:"online,omitempty"`
	LastActive   time.Time `json:"last_active,omitempty"`
}

// Summary returns a redacted copy safe for broadcasting to
// all connected clients.
func (p Participant) Summary() Participant {
	return Participant{
		Id:   p.Id,
		Name: p.Name,
		Role: p.Role,
	}
}

type Document struct {
	Id             int            `json:"id"`
	ExternalId     string         `json:"external_id"`
	Name           string         `json:"name"`
	RoomId         string         `json:"room_id,omitempty"`
	Content        string         `json:"content"`
	Version        int            `json:"version"`
	LastModifiedBy int            `json:"last_modified_by,omitempty"`
	Collaborators  []Collaborator `json:"collaborators,omitempty"`
	CreatedAt      time.Time      `json:"created_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty"`
}

type Collaborator struct {
	Participant  Participant `json:"participant"`
	JoinedAt     time.Time   `json:"joined_at,omitempty"`
	LastActivity time.Time   `json:"last_activity,omitempty"`
}

type Cursor struct {
	Position     int       `json:"position"`
	Name         string    `json:"name"`
	Color        string    `json:"color"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

type Message struct {
	Id        int       `json:"id"`
	RoomId    string    `json:"room_id"`
	UserId    int       `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Activity struct {
	Id        int            `json:"id"`
	Kind      string         `json:"kind"`
	ActorId   int            `json:"actor_id"`
	RoomId    string         `json:"room_id,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
