package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

func (db *PgRealtimeRepository) GetAccountById(accountId int) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, role, online, last_active FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var a Account
	var lastActive sql.NullTime
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
		&a.Role,
		&a.Online,
		&lastActive,
	)
	if lastActive.Valid {
		a.LastActive = lastActive.Time
	}

	return a, err
}

func (db *PgRealtimeRepository) SetAccountOnline(accountId int, online bool) error {
	_, err := db.conn.Exec(
		"UPDATE accounts SET online = $2, last_active = $3 WHERE id = $1",
		accountId,
		online,
		time.Now().UTC(),
	)

	return err
}

func (db *PgRealtimeRepository) ListOnlineAccounts() ([]Account, error) {
	rows, err := db.conn.Query(
		"SELECT id, username, email, role, online, last_active FROM accounts " +
			"WHERE online = true ORDER BY last_active DESC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		var lastActive sql.NullTime
		if err := rows.Scan(
			&a.Id,
			&a.Username,
			&a.EmailAddress,
			&a.Role,
			&a.Online,
			&lastActive,
		); err != nil {
			return nil, err
		}
		if lastActive.Valid {
			a.LastActive = lastActive.Time
		}
		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}

func (db *PgRealtimeRepository) GetDocumentByExternalId(externalId string) (Document, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, room_id, content, version, created_by, "+
			"COALESCE(last_modified_by, 0), created_at, updated_at FROM documents "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var d Document
	err := row.Scan(
		&d.Id,
		&d.ExternalId,
		&d.Name,
		&d.RoomId,
		&d.Content,
		&d.Version,
		&d.CreatedBy,
		&d.LastModifiedBy,
		&d.CreatedAt,
		&d.UpdatedAt,
	)

	return d, err
}

// SaveDocumentContent applies an optimistic-concurrency write. The
// version check and increment happen in a single conditional UPDATE so
// concurrent saves against the same base version cannot both succeed,
// even across server processes.
func (db *PgRealtimeRepository) SaveDocumentContent(documentId int, content string, baseVersion, modifiedBy int) (int, error) {
	row := db.conn.QueryRow(
		"UPDATE documents SET content = $2, version = version + 1, last_modified_by = $3, updated_at = $4 "+
			"WHERE id = $1 AND version = $5 RETURNING version",
		documentId,
		content,
		modifiedBy,
		time.Now().UTC(),
		baseVersion,
	)

	var newVersion int
	err := row.Scan(&newVersion)
	if err == sql.ErrNoRows {
		// no row matched: either the document is gone or the version moved
		var exists bool
		if err := db.conn.QueryRow(
			"SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)", documentId,
		).Scan(&exists); err != nil {
			return 0, fmt.Errorf("check document exists: %w", err)
		}

		if !exists {
			return 0, sql.ErrNoRows
		}
		return 0, ErrVersionConflict
	}

	return newVersion, err
}

func (db *PgRealtimeRepository) AddCollaborator(documentId, accountId int) error {
	_, err := db.conn.Exec(
		"INSERT INTO document_collaborators (document_id, account_id, joined_at, last_activity) "+
			"VALUES ($1, $2, $3, $3) "+
			"ON CONFLICT (document_id, account_id) DO UPDATE SET last_activity = $3",
		documentId,
		accountId,
		time.Now().UTC(),
	)

	return err
}

func (db *PgRealtimeRepository) UpsertCursor(cursor Cursor) error {
	_, err := db.conn.Exec(
		"INSERT INTO document_cursors (document_id, account_id, position, name, color, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) "+
			"ON CONFLICT (document_id, account_id) DO UPDATE SET position = $3, name = $4, color = $5, updated_at = $6",
		cursor.DocumentId,
		cursor.AccountId,
		cursor.Position,
		cursor.Name,
		cursor.Color,
		time.Now().UTC(),
	)

	return err
}

func (db *PgRealtimeRepository) GetCollaborators(documentId int) ([]Collaborator, error) {
	rows, err := db.conn.Query(
		"SELECT c.document_id, c.account_id, a.username, c.joined_at, c.last_activity "+
			"FROM document_collaborators c JOIN accounts a ON a.id = c.account_id "+
			"WHERE c.document_id = $1 ORDER BY c.joined_at",
		documentId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var collaborators []Collaborator
	for rows.Next() {
		var c Collaborator
		if err := rows.Scan(
			&c.DocumentId,
			&c.AccountId,
			&c.Username,
			&c.JoinedAt,
			&c.LastActivity,
		); err != nil {
			return nil, err
		}
		collaborators = append(collaborators, c)
	}

	return collaborators, rows.Err()
}

func (db *PgRealtimeRepository) GetCursors(documentId int) ([]Cursor, error) {
	rows, err := db.conn.Query(
		"SELECT document_id, account_id, position, name, color, updated_at "+
			"FROM document_cursors WHERE document_id = $1",
		documentId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cursors []Cursor
	for rows.Next() {
		var c Cursor
		if err := rows.Scan(
			&c.DocumentId,
			&c.AccountId,
			&c.Position,
			&c.Name,
			&c.Color,
			&c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		cursors = append(cursors, c)
	}

	return cursors, rows.Err()
}

func (db *PgRealtimeRepository) CreateMessage(msg Message) (Message, error) {
	row := db.conn.QueryRow(
		"INSERT INTO messages (room_id, account_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, created_at",
		msg.RoomId,
		msg.AccountId,
		msg.Content,
		time.Now().UTC(),
	)

	err := row.Scan(&msg.Id, &msg.CreatedAt)
	return msg, err
}

func (db *PgRealtimeRepository) CreateActivity(activity Activity) (Activity, error) {
	data, err := json.Marshal(activity.Data)
	if err != nil {
		return activity, fmt.Errorf("marshal activity data: %w", err)
	}

	row := db.conn.QueryRow(
		"INSERT INTO activities (kind, account_id, room_id, message, data, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at",
		activity.Kind,
		activity.AccountId,
		activity.RoomId,
		activity.Message,
		data,
		time.Now().UTC(),
	)

	err = row.Scan(&activity.Id, &activity.CreatedAt)
	return activity, err
}

func (db *PgRealtimeRepository) DeleteActivitiesBefore(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(
		"DELETE FROM activities WHERE created_at < $1",
		cutoff,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
