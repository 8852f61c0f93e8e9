package database

import (
	"errors"
	"time"
)

// ErrVersionConflict is returned by SaveDocumentContent when the
// caller's base version no longer matches the stored version.
var ErrVersionConflict = errors.New("document version conflict")

type Repository interface {
	Ping() error
	GetAccountById(accountId int) (Account, error)
	SetAccountOnline(accountId int, online bool) error
	ListOnlineAccounts() ([]Account, error)
	GetDocumentByExternalId(externalId string) (Document, error)
	SaveDocumentContent(documentId int, content string, baseVersion, modifiedBy int) (int, error)
	AddCollaborator(documentId, accountId int) error
	UpsertCursor(cursor Cursor) error
	GetCollaborators(documentId int) ([]Collaborator, error)
	GetCursors(documentId int) ([]Cursor, error)
	CreateMessage(msg Message) (Message, error)
	CreateActivity(activity Activity) (Activity, error)
	DeleteActivitiesBefore(cutoff time.Time) (int64, error)
}
