package export

import (
	"bytes"
	"testing"

	"github.com/tatianab/jianghu/internal/models"
)

func TestWritePDF(t *testing.T) {
	s := &models.GameSession{
		State: models.GameState{
			Player: models.NewPlayer(models.CharacterSheet{Name: "Linghu Chong"}),
			World:  models.WorldState{Location: "Mount Hua"},
			Turn:   3,
		},
		Narrative: []models.NarrativeEntry{
			{Role: models.RoleAssistant, Text: "Wind howls across the cliff."},
			{Role: models.RoleUser, Text: "draw sword"},
			{Role: models.RoleSystem, Text: "picked up a wine gourd"},
			{Role: models.RoleAssistant, Text: "The old man laughs."},
		},
	}
	var buf bytes.Buffer
	if err := WritePDF(&buf, s, ""); err != nil {
		t.Fatalf("WritePDF: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Fatalf("output is not a PDF")
	}
}

func TestWritePDFRequiresSession(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePDF(&buf, nil, ""); err == nil {
		t.Fatal("expected error for nil session")
	}
}

func TestWritePDFMissingFont(t *testing.T) {
	s := &models.GameSession{State: models.GameState{Player: models.NewPlayer(models.CharacterSheet{Name: "x"})}}
	var buf bytes.Buffer
	if err := WritePDF(&buf, s, t.TempDir()+"/missing.ttf"); err == nil {
		t.Fatal("expected error for missing font file")
	}
}
