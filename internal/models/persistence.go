package models

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SaveDir is where file saves live. It may be overridden from config.
var SaveDir = ".saves"

// sessionHistory is the history.yaml document of a file save.
type sessionHistory struct {
	Summary   string           `yaml:"summary"`
	Narrative []NarrativeEntry `yaml:"narrative"`
}

// Encode serializes a session into a single YAML document.
func Encode(s *GameSession) ([]byte, error) {
	return yaml.Marshal(s)
}

// Decode parses a YAML document produced by Encode and migrates it to
// CurrentVersion.
func Decode(data []byte) (*GameSession, error) {
	var s GameSession
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if err := Migrate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *GameSession) Save(name string) error {
	dir := filepath.Join(SaveDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// state.yaml holds everything except the narrative log.
	state := *s
	state.Narrative = nil
	state.Summary = ""
	stateData, err := yaml.Marshal(&state)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "state.yaml"), stateData, 0644); err != nil {
		return err
	}

	historyData, err := yaml.Marshal(sessionHistory{Summary: s.Summary, Narrative: s.Narrative})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "history.yaml"), historyData, 0644); err != nil {
		return err
	}

	return nil
}

func LoadSession(name string) (*GameSession, error) {
	dir := filepath.Join(SaveDir, name)

	stateData, err := os.ReadFile(filepath.Join(dir, "state.yaml"))
	if err != nil {
		return nil, err
	}
	var s GameSession
	if err := yaml.Unmarshal(stateData, &s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	historyData, err := os.ReadFile(filepath.Join(dir, "history.yaml"))
	if err != nil {
		return nil, err
	}
	var history sessionHistory
	if err := yaml.Unmarshal(historyData, &history); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	s.Summary = history.Summary
	s.Narrative = history.Narrative

	if err := Migrate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func ListSessions() ([]string, error) {
	if _, err := os.Stat(SaveDir); os.IsNotExist(err) {
		return []string{}, nil
	}

	entries, err := os.ReadDir(SaveDir)
	if err != nil {
		return nil, err
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			// state.yaml marks a valid save
			statePath := filepath.Join(SaveDir, entry.Name(), "state.yaml")
			if _, err := os.Stat(statePath); err == nil {
				sessions = append(sessions, entry.Name())
			}
		}
	}
	return sessions, nil
}
