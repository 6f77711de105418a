// Package job acquires due jobs from the store and runs them through the
// handler registered for their type.
package job

import (
	"context"
	"time"

	"github.com/goliatone/go-process/persistence"
)

// Handler executes one job type.
//
// A handler that wants its job to run again writes it back unlocked, usually
// with Reschedule, inside its own transaction. Jobs still leased to the
// executor when Execute returns nil are deleted.
type Handler interface {
	Type() string
	Execute(ctx context.Context, job *persistence.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	JobType string
	Fn      func(ctx context.Context, job *persistence.Job) error
}

func (h HandlerFunc) Type() string { return h.JobType }

func (h HandlerFunc) Execute(ctx context.Context, job *persistence.Job) error {
	return h.Fn(ctx, job)
}

// Reschedule releases the lease on j and makes it due at at.
func Reschedule(tx persistence.Tx, j *persistence.Job, at time.Time) error {
	current, err := tx.Job(j.ID)
	if err != nil {
		return err
	}
	current.DueDate = at
	current.LockOwner = ""
	current.LockExpiration = time.Time{}
	return tx.PutJob(current)
}
