package notifier

import (
	"context"
	"time"
)

// Config controls the alert pipeline.
type Config struct {
	Enabled   bool
	Token     string
	ChatID    int64
	ThreadID  int
	OnSuccess bool

	RatePerSec  float64
	QueueSize   int
	RetryMax    int
	RetryBase   time.Duration
	DedupWindow time.Duration
}

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type HistoryItem struct {
	At   time.Time
	Text string
	Err  string
}
