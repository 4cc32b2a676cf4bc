package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tatianab/jianghu/internal/models"
	"github.com/tatianab/jianghu/internal/storage/migrations"
)

// SQLiteStore keeps saves in a single SQLite database. The session is
// stored as its YAML document next to a few columns for the load menu.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and applies pending migrations.
// The special path ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, sess *models.GameSession) error {
	if err := requireID(sess); err != nil {
		return err
	}
	doc, err := models.Encode(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	created, updated := sess.CreatedAt, sess.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	if created.IsZero() {
		created = updated
	}
	// An older snapshot never replaces a newer one.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO saves (id, player_name, player_title, location, turn, created_at, updated_at, version, document)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   player_name = excluded.player_name,
		   player_title = excluded.player_title,
		   location = excluded.location,
		   turn = excluded.turn,
		   updated_at = excluded.updated_at,
		   version = excluded.version,
		   document = excluded.document
		 WHERE excluded.updated_at >= saves.updated_at`,
		sess.ID,
		sess.State.Player.Name,
		sess.State.Player.Title,
		sess.State.World.Location,
		sess.State.Turn,
		toMillis(created),
		toMillis(updated),
		sess.Version,
		doc,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*models.GameSession, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM saves WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return models.Decode(doc)
}

func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, player_name, player_title, location, turn, updated_at
		 FROM saves ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list saves: %w", err)
	}
	defer rows.Close()

	var list []Summary
	for rows.Next() {
		var (
			sum     Summary
			updated int64
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Title, &sum.Location, &sum.Turn, &updated); err != nil {
			return nil, fmt.Errorf("scan save: %w", err)
		}
		sum.UpdatedAt = fromMillis(updated)
		list = append(list, sum)
	}
	return list, rows.Err()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}
