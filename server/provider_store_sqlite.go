package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const providerSQLiteSchema = `
CREATE TABLE IF NOT EXISTS providers (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	default_model TEXT,
	active INTEGER NOT NULL DEFAULT 0,
	api_key TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// SQLiteProviderStoreConfig configures the SQLite provider store.
type SQLiteProviderStoreConfig struct {
	DSN string
}

// SQLiteProviderStore persists provider records in SQLite. API keys are
// encrypted at rest with an AES-GCM codec keyed from the environment or
// host identity.
type SQLiteProviderStore struct {
	db    *sql.DB
	codec *providerSecretCodec
}

// NewSQLiteProviderStore opens (or creates) a SQLite-backed provider store.
func NewSQLiteProviderStore(cfg SQLiteProviderStoreConfig) (*SQLiteProviderStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("provider store sqlite dsn is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("provider sqlite store open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("provider sqlite store set WAL mode: %w", err)
	}

	if _, err := db.Exec(providerSQLiteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("provider sqlite store create schema: %w", err)
	}

	codec, err := newProviderSecretCodec(cfg.DSN)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("provider sqlite store init secret codec: %w", err)
	}

	return &SQLiteProviderStore{db: db, codec: codec}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteProviderStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteProviderStore) List(ctx context.Context) ([]ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, type, name, default_model, active, created_at, updated_at
FROM providers
ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("provider sqlite store list: %w", err)
	}
	defer rows.Close()

	var records []ProviderRecord
	for rows.Next() {
		rec, err := scanProviderRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("provider sqlite store list rows: %w", err)
	}
	return records, nil
}

func (s *SQLiteProviderStore) Get(ctx context.Context, id string) (ProviderRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, type, name, default_model, active, created_at, updated_at
FROM providers
WHERE id = ?`, id)

	rec, err := scanProviderRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProviderRecord{}, false, nil
		}
		return ProviderRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteProviderStore) Create(ctx context.Context, rec ProviderRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO providers (id, type, name, default_model, active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		string(rec.Type),
		rec.Name,
		rec.DefaultModel,
		boolToInt(rec.Active),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrProviderExists
		}
		return fmt.Errorf("provider sqlite store create: %w", err)
	}
	return nil
}

func (s *SQLiteProviderStore) Update(ctx context.Context, rec ProviderRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE providers
SET type = ?, name = ?, default_model = ?, active = ?, updated_at = ?
WHERE id = ?`,
		string(rec.Type),
		rec.Name,
		rec.DefaultModel,
		boolToInt(rec.Active),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("provider sqlite store update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("provider sqlite store update affected rows: %w", err)
	}
	if affected == 0 {
		return ErrProviderNotFound
	}
	return nil
}

func (s *SQLiteProviderStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("provider sqlite store delete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("provider sqlite store delete affected rows: %w", err)
	}
	if affected == 0 {
		return ErrProviderNotFound
	}
	return nil
}

func (s *SQLiteProviderStore) GetAPIKey(ctx context.Context, id string) (string, error) {
	var stored sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key FROM providers WHERE id = ?`, id,
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrProviderNotFound
		}
		return "", fmt.Errorf("provider sqlite store get api key: %w", err)
	}
	if !stored.Valid || stored.String == "" {
		return "", nil
	}
	plaintext, err := s.codec.Decrypt(stored.String)
	if err != nil {
		return "", fmt.Errorf("provider sqlite store decrypt api key: %w", err)
	}
	return plaintext, nil
}

func (s *SQLiteProviderStore) SetAPIKey(ctx context.Context, id string, apiKey string) error {
	encrypted, err := s.codec.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("provider sqlite store encrypt api key: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET api_key = ?, updated_at = ? WHERE id = ?`,
		encrypted,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("provider sqlite store set api key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("provider sqlite store set api key affected rows: %w", err)
	}
	if affected == 0 {
		return ErrProviderNotFound
	}
	return nil
}

func scanProviderRecord(row rowScanner) (ProviderRecord, error) {
	var (
		rec          ProviderRecord
		providerType string
		defaultModel sql.NullString
		active       int
		createdAt    string
		updatedAt    string
	)

	err := row.Scan(&rec.ID, &providerType, &rec.Name, &defaultModel, &active, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProviderRecord{}, err
		}
		return ProviderRecord{}, fmt.Errorf("provider sqlite store scan: %w", err)
	}

	rec.Type = ProviderType(providerType)
	rec.DefaultModel = defaultModel.String
	rec.Active = active != 0

	rec.CreatedAt, err = parseStoredTime(createdAt)
	if err != nil {
		return ProviderRecord{}, fmt.Errorf("provider sqlite store parse created_at: %w", err)
	}
	rec.UpdatedAt, err = parseStoredTime(updatedAt)
	if err != nil {
		return ProviderRecord{}, fmt.Errorf("provider sqlite store parse updated_at: %w", err)
	}

	return rec, nil
}

// Compile-time interface check.
var _ ProviderStore = (*SQLiteProviderStore)(nil)
