package app

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Run carries everything scoped to one pipeline invocation: its id, a logger
// tagged with that id and the counters stages report into. Nothing here is
// process-global, so two runs in one process never share state.
type Run struct {
	ID      string
	Log     zerolog.Logger
	Started time.Time

	Translations   int
	TranslateHits  int
	TranslateFails int
	LLMCalls       int
	LLMFailures    int
}

func NewRun(base zerolog.Logger) *Run {
	id := uuid.NewString()
	return &Run{
		ID:      id,
		Log:     base.With().Str("run_id", id).Logger(),
		Started: time.Now().UTC(),
	}
}

// Stage returns a child logger for one stage of this run.
func (r *Run) Stage(name string) zerolog.Logger {
	return r.Log.With().Str("stage", name).Logger()
}
