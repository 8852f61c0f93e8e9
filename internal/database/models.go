package database

import "time"

type Account struct {
	Id           int
	Username     string
	EmailAddress string
	Role         string
	Online       bool
	LastActive   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Document struct {
	Id             int
	ExternalId     string
	Name           string
	RoomId         string
	Content        string
	Version        int
	CreatedBy      int
	LastModifiedBy int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Collaborator struct {
	DocumentId   int
	AccountId    int
	Username     string
	JoinedAt     time.Time
	LastActivity time.Time
}

type Cursor struct {
	DocumentId int
	AccountId  int
	Position   int
	Name       string
	Color      string
	UpdatedAt  time.Time
}

type Message struct {
	Id        int
	RoomId    string
	AccountId int
	Username  string
	Content   string
	CreatedAt time.Time
}

type Activity struct {
	Id        int
	Kind      string
	AccountId int
	RoomId    string
	Message   string
	Data      map[string]any
	CreatedAt time.Time
}
