// Package store implements the fabric's single persistence primitive: a
// key/value settings table plus an append-only call log (§6), backed by
// modernc.org/sqlite (pure Go, no cgo) so every component binary can open
// the same database file without a C toolchain.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a sqlite database holding the settings KV table and the
// call log. It is never read on the hot path (§5); only R/T append to
// the call log, and config reads happen at session/startup time.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer safety

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS call_log (
			call_id       INTEGER PRIMARY KEY,
			caller_number TEXT NOT NULL,
			start_ts      INTEGER NOT NULL,
			end_ts        INTEGER,
			transcript    TEXT NOT NULL DEFAULT '',
			reply_text    TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'active'
		);
	`)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetSetting reads a persisted KV setting (service enablement flags,
// model paths, voice id, chunk/VAD tuning overrides — §6). ok is false
// when the key is unset.
func (s *Store) GetSetting(key string) (value string, ok bool, err error) {
	row := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key)
	err = row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts a KV setting, allowing a running service to be
// reconfigured without restart (§6).
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("store: set setting %s: %w", key, err)
	}
	return nil
}

// StartCall records the start of a call (call id, caller identity, start
// timestamp), with status "active".
func (s *Store) StartCall(callID int, callerNumber string, start time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO call_log (call_id, caller_number, start_ts, status)
		VALUES (?, ?, ?, 'active')
		ON CONFLICT(call_id) DO UPDATE SET caller_number = excluded.caller_number, start_ts = excluded.start_ts, status = 'active'
	`, callID, callerNumber, start.Unix())
	if err != nil {
		return fmt.Errorf("store: start call %d: %w", callID, err)
	}
	return nil
}

// AppendTranscript concatenates text onto the call's transcript column.
// Called by T as incremental deltas are produced (§4.3).
func (s *Store) AppendTranscript(callID int, text string) error {
	_, err := s.db.Exec(`
		UPDATE call_log SET transcript = transcript || ? WHERE call_id = ?
	`, text, callID)
	if err != nil {
		return fmt.Errorf("store: append transcript for call %d: %w", callID, err)
	}
	return nil
}

// AppendReply concatenates text onto the call's reply_text column.
// Called by R after each generated reply (§4.4).
func (s *Store) AppendReply(callID int, text string) error {
	_, err := s.db.Exec(`
		UPDATE call_log SET reply_text = reply_text || ? WHERE call_id = ?
	`, text, callID)
	if err != nil {
		return fmt.Errorf("store: append reply for call %d: %w", callID, err)
	}
	return nil
}

// EndCall marks a call ended with an end timestamp.
func (s *Store) EndCall(callID int, end time.Time) error {
	_, err := s.db.Exec(`
		UPDATE call_log SET end_ts = ?, status = 'ended' WHERE call_id = ?
	`, end.Unix(), callID)
	if err != nil {
		return fmt.Errorf("store: end call %d: %w", callID, err)
	}
	return nil
}

// CallRecord is a read projection of one call_log row, used by
// diagnostics tooling (never on the hot path).
type CallRecord struct {
	CallID       int
	CallerNumber string
	StartTS      int64
	EndTS        sql.NullInt64
	Transcript   string
	ReplyText    string
	Status       string
}

// GetCall reads back one call's record.
func (s *Store) GetCall(callID int) (CallRecord, error) {
	var rec CallRecord
	row := s.db.QueryRow(`
		SELECT call_id, caller_number, start_ts, end_ts, transcript, reply_text, status
		FROM call_log WHERE call_id = ?
	`, callID)
	err := row.Scan(&rec.CallID, &rec.CallerNumber, &rec.StartTS, &rec.EndTS, &rec.Transcript, &rec.ReplyText, &rec.Status)
	if err != nil {
		return CallRecord{}, fmt.Errorf("store: get call %d: %w", callID, err)
	}
	return rec, nil
}
