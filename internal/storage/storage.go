// Package storage persists game sessions.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/tatianab/jianghu/internal/config"
	"github.com/tatianab/jianghu/internal/models"
)

// ErrNotFound is returned when no save exists for an id.
var ErrNotFound = errors.New("save not found")

// Summary describes a save for a load menu.
type Summary struct {
	ID        string
	Name      string
	Title     string
	Location  string
	Turn      int
	UpdatedAt time.Time
}

// Store saves and restores whole sessions keyed by session id.
type Store interface {
	Save(ctx context.Context, s *models.GameSession) error
	Load(ctx context.Context, id string) (*models.GameSession, error)
	List(ctx context.Context) ([]Summary, error)
}

// Open returns the store selected by cfg.SaveBackend.
func Open(cfg *config.Config, logger *log.Logger) (Store, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	switch cfg.SaveBackend {
	case config.BackendFile, "":
		logger.Printf("saving to %s", cfg.SaveDir)
		return NewFileStore(cfg.SaveDir), nil
	case config.BackendSQLite:
		logger.Printf("saving to sqlite %s", cfg.SQLitePath)
		return OpenSQLite(cfg.SQLitePath)
	case config.BackendSupabase:
		logger.Printf("saving to supabase table %s", cfg.SupabaseTable)
		return NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseTable)
	default:
		return nil, fmt.Errorf("unknown save backend %q", cfg.SaveBackend)
	}
}

func summarize(s *models.GameSession) Summary {
	return Summary{
		ID:        s.ID,
		Name:      s.State.Player.Name,
		Title:     s.State.Player.Title,
		Location:  s.State.World.Location,
		Turn:      s.State.Turn,
		UpdatedAt: s.UpdatedAt,
	}
}

// sortSummaries orders saves most recent first.
func sortSummaries(list []Summary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}

func requireID(s *models.GameSession) error {
	if s == nil {
		return fmt.Errorf("session is required")
	}
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	return nil
}
