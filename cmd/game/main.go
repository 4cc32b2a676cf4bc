package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tatianab/jianghu/internal/config"
	"github.com/tatianab/jianghu/internal/engine"
	"github.com/tatianab/jianghu/internal/models"
	"github.com/tatianab/jianghu/internal/prompt"
	"github.com/tatianab/jianghu/internal/storage"
	"github.com/tatianab/jianghu/internal/tui"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	models.SaveDir = cfg.SaveDir

	// The TUI owns the terminal, so logs go to a file next to the saves.
	if err := os.MkdirAll(cfg.SaveDir, 0755); err != nil {
		fmt.Printf("Error creating save dir: %v\n", err)
		os.Exit(1)
	}
	logFile, err := os.OpenFile(cfg.SaveDir+"/jianghu.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Printf("Error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := log.New(logFile, "[jianghu] ", log.LstdFlags)

	store, err := storage.Open(cfg, logger)
	if err != nil {
		fmt.Printf("Error opening save store: %v\n", err)
		os.Exit(1)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	gemini, err := engine.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		fmt.Printf("Error creating Gemini client: %v\n", err)
		os.Exit(1)
	}
	defer gemini.Close()

	notes := engine.NewChanNotifier(16)
	eng := engine.NewEngine(gemini,
		engine.WithSaver(store),
		engine.WithNotifier(notes),
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

	settings := tui.Settings{SaveDir: cfg.SaveDir, PDFFontPath: cfg.PDFFontPath}
	if err := tui.Run(eng, store, notes.C, settings); err != nil {
		fmt.Printf("Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
