package engine

import (
	"github.com/tatianab/jianghu/internal/models"
	"github.com/tatianab/jianghu/internal/prompt"
	"github.com/tatianab/jianghu/internal/response"
)

// Background tasks never block a turn and never fail one. When they
// resolve they write only the fields they own onto whatever the live
// session is at that moment (last write wins), and nothing at all if the
// session was reset or replaced in the meantime.

// scheduleSummary merges the most recent window of the log into the
// rolling summary.
func (e *Engine) scheduleSummary(epoch uint64, snapshot *models.GameSession) {
	window := recentTurns(snapshot.Narrative, e.opts.SummaryEvery)
	e.bg.Go(func() error {
		p, err := e.builder.Summary(snapshot.Summary, window)
		if err != nil {
			e.logger.Printf("summary prompt: %v", err)
			return nil
		}
		c, err := e.complete(e.ctx, e.opts.BackgroundTimeout, p)
		if err != nil {
			e.logger.Printf("summary compaction failed: %v", err)
			return nil
		}
		summary, err := response.ParseSummary(c.Text)
		if err != nil {
			e.logger.Printf("summary compaction unusable: %v", err)
			return nil
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if epoch != e.epoch || e.session == nil {
			return nil
		}
		e.session.Summary = summary
		return nil
	})
}

// scheduleQuest asks for the next main objective and upcoming arc. On
// success the previous objective is archived with the stage summary the
// model offered.
func (e *Engine) scheduleQuest(epoch uint64, snapshot *models.GameSession) {
	pctx := prompt.Context{State: snapshot.State, Narrative: snapshot.Narrative, Summary: snapshot.Summary}
	e.bg.Go(func() error {
		p, err := e.builder.Quest(pctx)
		if err != nil {
			e.logger.Printf("quest prompt: %v", err)
			return nil
		}
		c, err := e.complete(e.ctx, e.opts.BackgroundTimeout, p)
		if err != nil {
			e.logger.Printf("quest replenishment failed: %v", err)
			return nil
		}
		res, err := response.ParseQuestResult(c.Text)
		if err != nil {
			e.logger.Printf("quest replenishment unusable: %v", err)
			return nil
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if epoch != e.epoch || e.session == nil {
			return nil
		}
		q := &e.session.State.Quest
		archiveQuest(q, q.MainQuest, res.StageSummary, e.session.State.Turn)
		q.MainQuest = res.MainQuest
		q.QuestStartTurn = e.session.State.Turn
		if len(res.Arc) > 0 {
			q.Arc = res.Arc
			q.ArcIndex = 0
		}
		return nil
	})
}

// recentTurns returns the last n user/assistant entries.
func recentTurns(log []models.NarrativeEntry, n int) []models.NarrativeEntry {
	var turns []models.NarrativeEntry
	for _, entry := range log {
		if entry.Role == models.RoleUser || entry.Role == models.RoleAssistant {
			turns = append(turns, entry)
		}
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}
