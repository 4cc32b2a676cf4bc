package engine

import (
	"context"

	"github.com/tatianab/jianghu/internal/models"
)

// Usage reports token consumption of one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Completion is the raw text returned by the model.
type Completion struct {
	Text  string
	Usage *Usage
}

// Transport calls a text completion model. Any error is a transport
// failure; implementations must honor ctx cancellation.
type Transport interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error)
}

// Saver persists session snapshots. Saves are fire-and-forget: the engine
// logs failures and never rolls back gameplay because of them.
type Saver interface {
	Save(ctx context.Context, s *models.GameSession) error
}

// Notifier receives UI toast events. Notify must not block.
type Notifier interface {
	Notify(n models.Notification)
}

// ChanNotifier delivers notifications on a buffered channel and drops them
// when the channel is full.
type ChanNotifier struct {
	C chan models.Notification
}

// NewChanNotifier returns a notifier with the given buffer size.
func NewChanNotifier(size int) *ChanNotifier {
	return &ChanNotifier{C: make(chan models.Notification, size)}
}

func (n *ChanNotifier) Notify(note models.Notification) {
	select {
	case n.C <- note:
	default:
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(models.Notification) {}

type nopSaver struct{}

func (nopSaver) Save(context.Context, *models.GameSession) error { return nil }
