// Command simulate plays the game headlessly: one model narrates while a
// second one picks options.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/tatianab/jianghu/internal/config"
	"github.com/tatianab/jianghu/internal/engine"
	"github.com/tatianab/jianghu/internal/gameerr"
	"github.com/tatianab/jianghu/internal/models"
	"github.com/tatianab/jianghu/internal/prompt"
	"github.com/tatianab/jianghu/internal/storage"
)

const playerSystem = `你正在玩一款武俠文字冒險遊戲，扮演玩家。
每回合你會看到劇情與編號選項。只回覆你選擇的選項編號（1-4），不要任何其他文字。`

func main() {
	turns := flag.Int("turns", 10, "number of turns to play")
	name := flag.String("name", "林平之", "character name")
	gender := flag.String("gender", "男", "character gender")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	models.SaveDir = cfg.SaveDir
	logger := log.New(os.Stderr, "[simulate] ", log.LstdFlags)

	store, err := storage.Open(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open save store: %v", err)
	}

	// The Game Master
	gm, err := engine.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatalf("Failed to create GM client: %v", err)
	}
	defer gm.Close()

	// The player
	player, err := engine.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatalf("Failed to create player client: %v", err)
	}
	defer player.Close()

	eng := engine.NewEngine(gm,
		engine.WithSaver(store),
		engine.WithLogger(logger),
		engine.WithBuilder(&prompt.Builder{HistoryWindow: cfg.HistoryWindow}),
		engine.WithOptions(engine.Options{
			TurnTimeout:       cfg.TurnTimeout,
			BackgroundTimeout: cfg.BackgroundTimeout,
			SaveTimeout:       cfg.SaveTimeout,
			SummaryEvery:      cfg.SummaryEvery,
			QuestEvery:        cfg.QuestEvery,
			RepairOnDefect:    cfg.RepairOnDefect,
		}),
	)
	defer eng.Close()

	fmt.Println("--- Opening ---")
	out, err := eng.Start(ctx, models.CharacterSheet{Name: *name, Gender: *gender})
	if err != nil {
		log.Fatalf("Failed to start game: %v", err)
	}
	printOutcome(out)

	for turn := 1; turn <= *turns; turn++ {
		fmt.Printf("--- Turn %d ---\n", turn)

		choice := pickOption(ctx, player, out)
		fmt.Printf("Player picks: %d\n", choice+1)

		next, err := eng.SelectOption(ctx, choice)
		if gameerr.IsKind(err, gameerr.KindMalformedResponse) || gameerr.IsKind(err, gameerr.KindTransport) {
			fmt.Printf("Turn failed (%s), retrying: %v\n", gameerr.KindOf(err), err)
			next, err = eng.Retry(ctx)
		}
		if err != nil {
			fmt.Printf("Error processing turn: %v\n", err)
			break
		}
		out = next
		printOutcome(out)
		printState(eng.Snapshot())

		if out.GameOver {
			fmt.Println("Game Ended: the hero has fallen.")
			break
		}
	}

	eng.Wait()
	if s := eng.Snapshot(); s != nil {
		fmt.Printf("\nSaved as %s\nSummary: %s\n", s.ID, s.Summary)
	}
}

// pickOption asks the player model for an option number and falls back to
// the first option when the answer is unusable.
func pickOption(ctx context.Context, player engine.Transport, out *engine.Outcome) int {
	var b strings.Builder
	b.WriteString(out.Narrative + "\n\n")
	for i, o := range out.Options {
		fmt.Fprintf(&b, "%d. %s（%s）\n", i+1, o.Label, o.Action)
	}
	c, err := player.Complete(ctx, playerSystem, b.String())
	if err != nil {
		return 0
	}
	digits := strings.TrimFunc(c.Text, func(r rune) bool { return !unicode.IsDigit(r) })
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits[:1])
	if err != nil || n < 1 {
		return 0
	}
	// SelectOption clamps anything past the end.
	return n - 1
}

func printOutcome(out *engine.Outcome) {
	fmt.Printf("GM: %s\n", out.Narrative)
	for i, o := range out.Options {
		fmt.Printf("  %d. %s\n", i+1, o.Label)
	}
	for _, n := range out.Notifications {
		fmt.Printf("  [%s] %s %s\n", n.Type, n.Title, n.Description)
	}
	if len(out.Report) > 0 {
		fmt.Printf("  Defects: %s\n", out.Report)
	}
}

func printState(s *models.GameSession) {
	if s == nil {
		return
	}
	p := s.State.Player
	fmt.Printf("State: HP=%d/%d Qi=%d/%d Hunger=%d Money=%d Location=%s Quest=%s (%d%%) Pacing=%d\n\n",
		p.HP, p.MaxHP, p.Qi, p.MaxQi, p.Hunger, p.Money,
		s.State.World.Location, s.State.Quest.MainQuest, s.State.Quest.PlotProgress, s.State.Quest.PacingCounter)
}

