package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tatianab/jianghu/internal/config"
	"github.com/tatianab/jianghu/internal/models"
)

func testSession(id, name string, updated time.Time) *models.GameSession {
	s := &models.GameSession{
		Version: models.CurrentVersion,
		ID:      id,
		State: models.GameState{
			Player: models.NewPlayer(models.CharacterSheet{Name: name}),
			World:  models.WorldState{Location: "終南山"},
			Turn:   7,
		},
		Narrative: []models.NarrativeEntry{
			{Role: models.RoleAssistant, Text: "古墓外松風陣陣。"},
			{Role: models.RoleUser, Text: "推開石門"},
		},
		Summary:   "楊過拜入古墓派。",
		Options:   []models.Option{{Label: "進墓", Action: "走進古墓"}},
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
	}
	s.State.Player.Inventory = append(s.State.Player.Inventory, models.Item{ID: "item-1", Name: "玉蜂漿", Count: 2})
	return s
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("load missing: got %v, want ErrNotFound", err)
	}

	first := testSession("s-1", "楊過", base)
	second := testSession("s-2", "小龍女", base.Add(time.Minute))
	for _, s := range []*models.GameSession{first, second} {
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("save %s: %v", s.ID, err)
		}
	}

	got, err := store.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.State.Player.Name != "楊過" || got.State.Turn != 7 || got.Summary != first.Summary {
		t.Fatalf("loaded session mismatch: %+v", got.State)
	}
	if len(got.Narrative) != 2 || got.Narrative[1].Text != "推開石門" {
		t.Fatalf("narrative mismatch: %+v", got.Narrative)
	}
	if len(got.State.Player.Inventory) != 1 || got.State.Player.Inventory[0].Count != 2 {
		t.Fatalf("inventory mismatch: %+v", got.State.Player.Inventory)
	}

	// Overwrite keeps a single save per id.
	first.State.Turn = 8
	first.UpdatedAt = base.Add(2 * time.Minute)
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("resave: %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list length = %d, want 2", len(list))
	}
	if list[0].ID != "s-1" || list[0].Turn != 8 || list[0].Location != "終南山" {
		t.Fatalf("expected most recent save first, got %+v", list[0])
	}
	if list[1].Name != "小龍女" {
		t.Fatalf("second entry = %+v", list[1])
	}
}

func TestFileStore(t *testing.T) {
	exerciseStore(t, NewFileStore(t.TempDir()))
}

func TestFileStoreRestoresSaveDir(t *testing.T) {
	prev := models.SaveDir
	store := NewFileStore(t.TempDir())
	if err := store.Save(context.Background(), testSession("s-1", "楊過", time.Now())); err != nil {
		t.Fatal(err)
	}
	if models.SaveDir != prev {
		t.Fatalf("SaveDir = %q, want %q", models.SaveDir, prev)
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	exerciseStore(t, store)
}

func TestSQLiteKeepsNewerSave(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	newer := testSession("s-1", "楊過", base.Add(time.Minute))
	newer.State.Turn = 9
	older := testSession("s-1", "楊過", base)
	older.State.Turn = 3
	for _, s := range []*models.GameSession{newer, older} {
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("save turn %d: %v", s.State.Turn, err)
		}
	}

	got, err := store.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.State.Turn != 9 {
		t.Fatalf("older snapshot overwrote newer: turn %d", got.State.Turn)
	}
}

func TestSQLiteMigrationsApplyOnce(t *testing.T) {
	path := t.TempDir() + "/saves.db"
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Save(context.Background(), testSession("s-1", "楊過", time.Now())); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	var n int
	if err := reopened.db.QueryRow("SELECT COUNT(*) FROM " + migrationTable).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("applied migrations = %d, want 2", n)
	}
	if _, err := reopened.Load(context.Background(), "s-1"); err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite(" "); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestUpSection(t *testing.T) {
	got := upSection("-- +migrate Up\nCREATE TABLE a (x);\n-- +migrate Down\nDROP TABLE a;\n")
	if got != "\nCREATE TABLE a (x);\n" {
		t.Fatalf("upSection = %q", got)
	}
	if got := upSection("SELECT 1;"); got != "SELECT 1;" {
		t.Fatalf("upSection without markers = %q", got)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := &config.Config{SaveBackend: "s3"}
	if _, err := Open(cfg, nil); err == nil {
		t.Fatal("expected unknown backend error")
	}
}
