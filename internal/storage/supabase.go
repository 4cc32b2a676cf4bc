package storage

import (
	"context"
	"fmt"
	"time"

	supa "github.com/supabase-community/supabase-go"

	"github.com/tatianab/jianghu/internal/models"
)

// SupabaseStore upserts saves into a Supabase table with the columns of
// saveRow. The context is only checked before each request since the
// client does not take one.
type SupabaseStore struct {
	client *supa.Client
	table  string
}

type saveRow struct {
	ID          string    `json:"id"`
	PlayerName  string    `json:"player_name"`
	PlayerTitle string    `json:"player_title"`
	Location    string    `json:"location"`
	Turn        int       `json:"turn"`
	Version     int       `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
	Document    string    `json:"document,omitempty"`
}

const summaryColumns = "id,player_name,player_title,location,turn,version,updated_at"

func NewSupabaseStore(url, key, table string) (*SupabaseStore, error) {
	client, err := supa.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to supabase: %w", err)
	}
	if table == "" {
		table = "saves"
	}
	return &SupabaseStore{client: client, table: table}, nil
}

func (s *SupabaseStore) Save(ctx context.Context, sess *models.GameSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := requireID(sess); err != nil {
		return err
	}
	doc, err := models.Encode(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	updated := sess.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	row := saveRow{
		ID:          sess.ID,
		PlayerName:  sess.State.Player.Name,
		PlayerTitle: sess.State.Player.Title,
		Location:    sess.State.World.Location,
		Turn:        sess.State.Turn,
		Version:     sess.Version,
		UpdatedAt:   updated.UTC(),
		Document:    string(doc),
	}
	var inserted []saveRow
	if _, err := s.client.From(s.table).Insert(row, true, "id", "representation", "").ExecuteTo(&inserted); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SupabaseStore) Load(ctx context.Context, id string) (*models.GameSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []saveRow
	if _, err := s.client.From(s.table).Select("document", "", false).Eq("id", id).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if len(rows) == 0 || rows[0].Document == "" {
		return nil, ErrNotFound
	}
	return models.Decode([]byte(rows[0].Document))
}

func (s *SupabaseStore) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []saveRow
	if _, err := s.client.From(s.table).Select(summaryColumns, "", false).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("list saves: %w", err)
	}
	list := make([]Summary, 0, len(rows))
	for _, r := range rows {
		list = append(list, Summary{
			ID:        r.ID,
			Name:      r.PlayerName,
			Title:     r.PlayerTitle,
			Location:  r.Location,
			Turn:      r.Turn,
			UpdatedAt: r.UpdatedAt,
		})
	}
	sortSummaries(list)
	return list, nil
}
