package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultTick = 60 * time.Second

// Config controls the scheduler service.
type Config struct {
	Tick     time.Duration
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

// Runner executes one page job. It reports success and must not block
// forever; the scheduler treats a panic as a failure.
type Runner interface {
	RunScheduled(ctx context.Context, target, page string) bool
}

// State is the lifecycle of a job within one tick.
type State int

const (
	Idle State = iota
	Due
	Running
	// Parked jobs have no further instant to run at and are never due again.
	Parked
)

func (s State) String() string {
	switch s {
	case Due:
		return "due"
	case Running:
		return "running"
	case Parked:
		return "parked"
	default:
		return "idle"
	}
}

// job is one scheduled (target, page) pair.
type job struct {
	target string
	page   string
	expr   string
	sched  cron.Schedule

	state   State
	nextRun time.Time
	lastRun time.Time
	lastOK  bool
	runs    int
}

func (j *job) key() string { return j.target + "\x00" + j.page }

// JobInfo is a read-only view of a job.
type JobInfo struct {
	Target  string    `json:"target"`
	Page    string    `json:"page"`
	Expr    string    `json:"schedule"`
	State   string    `json:"state"`
	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run,omitempty"`
	LastOK  bool      `json:"last_ok"`
	Runs    int       `json:"runs"`
}
