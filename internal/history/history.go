// Package history persists asked questions and their answers so later
// questions can refer back to them.
package history

import (
	"context"
	"time"

	"github.com/codefionn/sysask/internal/orchestrator"
)

// Status of a recorded question.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Record is one question and its outcome.
type Record struct {
	ID        string
	Question  string
	Answer    string
	Status    Status
	Commands  []string
	Duration  time.Duration
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists records.
type Store interface {
	// Append inserts r, assigning ID and timestamps when unset.
	Append(ctx context.Context, r *Record) error
	UpdateStatus(ctx context.Context, id string, status Status, answer string, commands []string, duration time.Duration) error
	// Last returns up to n most recent records, oldest first.
	Last(ctx context.Context, n int) ([]Record, error)
	Close() error
}

// StatusFor maps an orchestration result onto a record status.
func StatusFor(res *orchestrator.Result) Status {
	switch {
	case res.Success:
		return StatusCompleted
	case res.Aborted:
		return StatusAborted
	default:
		return StatusFailed
	}
}

// Messages flattens records into conversation history. Records without an
// answer contribute only the question.
func Messages(records []Record) []orchestrator.Message {
	out := make([]orchestrator.Message, 0, 2*len(records))
	for _, r := range records {
		out = append(out, orchestrator.Message{Role: "user", Content: r.Question})
		if r.Answer != "" {
			out = append(out, orchestrator.Message{Role: "assistant", Content: r.Answer})
		}
	}
	return out
}
