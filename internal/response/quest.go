package response

import (
	"strings"

	"github.com/tatianab/jianghu/internal/gameerr"
)

// QuestResult is the output of a quest-arc replenishment call.
type QuestResult struct {
	MainQuest    string
	StageSummary string
	Arc          []string
}

type wireQuest struct {
	MainQuest    string   `json:"mainQuest"`
	StageSummary string   `json:"stageSummary"`
	Arc          []string `json:"arc"`
}

// ParseQuestResult parses a quest-arc response. A result without a main
// quest is a schema violation.
func ParseQuestResult(raw string) (*QuestResult, error) {
	var w wireQuest
	if err := decode(raw, &w); err != nil {
		return nil, err
	}
	q := &QuestResult{
		MainQuest:    strings.TrimSpace(w.MainQuest),
		StageSummary: strings.TrimSpace(w.StageSummary),
		Arc:          nonEmpty(w.Arc),
	}
	if q.MainQuest == "" {
		return nil, gameerr.New(gameerr.CodeSchemaViolation, "quest response has no mainQuest")
	}
	return q, nil
}

// MaxSummaryChars bounds the rolling summary.
const MaxSummaryChars = 600

// ParseSummary cleans a summary compaction response. Summaries are plain
// text; empty output is rejected so the previous summary is kept.
func ParseSummary(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "`")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", gameerr.New(gameerr.CodeSchemaViolation, "summary response is empty")
	}
	return truncate(s, MaxSummaryChars), nil
}
