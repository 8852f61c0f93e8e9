package database

import (
	"database/sql"
)

type PgRealtimeRepository struct {
	conn *sql.DB
}

func NewPgRealtimeRepository(dsn string) (*PgRealtimeRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgRealtimeRepository{conn: db}, nil
}

func (db *PgRealtimeRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgRealtimeRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
