// Package journal implements the append-only thought log shared by every
// agent role. The log is the sole cross-turn memory of a session: no component
// may rely on hidden state that is not present here. Records are totally
// ordered by Seq, which equals the causal order of decisions and outcomes,
// and the log is never truncated while a session runs.
package journal

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// Agent names used as the source tag of journal records.
const (
	AgentPlanner      = "planner"
	AgentOrchestrator = "orchestrator"
	AgentCortex       = "cortex"
	AgentExecutor     = "executor"
	AgentPerception   = "perception"
)

// Sink receives a copy of every appended record. Used by the trace recorder;
// sink errors never affect the journal itself.
type Sink interface {
	Record(rec schemas.ThoughtRecord)
}

// Journal is a mutex-guarded append-only event store. The orchestration loop
// is sequential, so there is one writer per turn; the lock exists because
// recorders and loggers read concurrently.
type Journal struct {
	mu      sync.RWMutex
	records []schemas.ThoughtRecord
	sinks   []Sink
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an empty journal.
func New(logger *zap.Logger) *Journal {
	return &Journal{
		logger: logger.Named("journal"),
		now:    time.Now,
	}
}

// AddSink registers a record sink. Not safe to call concurrently with Append.
func (j *Journal) AddSink(s Sink) {
	j.sinks = append(j.sinks, s)
}

// Append adds one record and returns it with its assigned sequence number.
func (j *Journal) Append(agent, content string) schemas.ThoughtRecord {
	j.mu.Lock()
	rec := schemas.ThoughtRecord{
		Seq:       len(j.records),
		Agent:     agent,
		Content:   content,
		Timestamp: j.now().UTC(),
	}
	j.records = append(j.records, rec)
	j.mu.Unlock()

	j.logger.Debug("Journal record appended",
		zap.Int("seq", rec.Seq),
		zap.String("agent", agent),
		zap.String("content", content))

	for _, s := range j.sinks {
		s.Record(rec)
	}
	return rec
}

// AppendAll appends several records from the same agent in order.
func (j *Journal) AppendAll(agent string, contents ...string) {
	for _, c := range contents {
		j.Append(agent, c)
	}
}

// Len returns the number of records.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.records)
}

// Snapshot returns a copy of the whole log as of now. Callers own the slice.
func (j *Journal) Snapshot() []schemas.ThoughtRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]schemas.ThoughtRecord, len(j.records))
	copy(out, j.records)
	return out
}

// Tail returns a copy of the last n records (or fewer).
func (j *Journal) Tail(n int) []schemas.ThoughtRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if n > len(j.records) {
		n = len(j.records)
	}
	out := make([]schemas.ThoughtRecord, n)
	copy(out, j.records[len(j.records)-n:])
	return out
}

// Reset clears the log. Only valid when a new top-level goal begins; a replan
// within a session must never call this.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = nil
}
