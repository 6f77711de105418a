package batch

import (
	"context"
	"time"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/persistence"
	"go.uber.org/multierr"
)

// Get returns a running batch.
func (s *Scheduler) Get(ctx context.Context, id string) (*persistence.Batch, error) {
	var b *persistence.Batch
	err := s.store.View(ctx, func(tx persistence.Tx) error {
		var err error
		b, err = tx.Batch(id)
		return err
	})
	if process.IsNotFound(err) {
		return nil, process.NotFoundf("Batch for id '%s' cannot be found", id)
	}
	return b, err
}

// List returns every running batch in creation order.
func (s *Scheduler) List(ctx context.Context) ([]*persistence.Batch, error) {
	var out []*persistence.Batch
	err := s.store.View(ctx, func(tx persistence.Tx) error {
		var err error
		out, err = tx.Batches()
		return err
	})
	return out, err
}

// Statistics counts the execution jobs of a running batch.
func (s *Scheduler) Statistics(ctx context.Context, id string) (*Statistics, error) {
	var stats *Statistics
	err := s.store.View(ctx, func(tx persistence.Tx) error {
		b, err := tx.Batch(id)
		if err != nil {
			return err
		}
		jobs, err := tx.Jobs(persistence.JobQuery{BatchID: b.ID, JobDefinitionID: b.BatchJobDefinitionID})
		if err != nil {
			return err
		}
		stats = &Statistics{
			BatchID:       b.ID,
			Type:          b.Type,
			TotalJobs:     b.TotalJobs,
			JobsCreated:   b.JobsCreated,
			CompletedJobs: b.JobsCreated - len(jobs),
		}
		for _, j := range jobs {
			if j.Retries == 0 {
				stats.FailedJobs++
			}
		}
		stats.RemainingJobs = b.TotalJobs - stats.CompletedJobs
		return nil
	})
	if process.IsNotFound(err) {
		return nil, process.NotFoundf("Batch for id '%s' cannot be found", id)
	}
	return stats, err
}

// SeedJob returns the seed job of a batch, or nil once seeding finished.
func (s *Scheduler) SeedJob(ctx context.Context, batchID string) (*persistence.Job, error) {
	return s.singleJob(ctx, batchID, func(b *persistence.Batch) string { return b.SeedJobDefinitionID })
}

// MonitorJob returns the monitor job of a batch, or nil before seeding
// finished.
func (s *Scheduler) MonitorJob(ctx context.Context, batchID string) (*persistence.Job, error) {
	return s.singleJob(ctx, batchID, func(b *persistence.Batch) string { return b.MonitorJobDefinitionID })
}

// ExecutionJobs returns the execution jobs of a batch that have not
// completed, failed ones included.
func (s *Scheduler) ExecutionJobs(ctx context.Context, batchID string) ([]*persistence.Job, error) {
	var out []*persistence.Job
	err := s.store.View(ctx, func(tx persistence.Tx) error {
		b, err := tx.Batch(batchID)
		if err != nil {
			return err
		}
		out, err = tx.Jobs(persistence.JobQuery{BatchID: b.ID, JobDefinitionID: b.BatchJobDefinitionID})
		return err
	})
	if process.IsNotFound(err) {
		return nil, nil
	}
	return out, err
}

// JobDefinitions returns the seed, monitor and execution job definitions.
func (s *Scheduler) JobDefinitions(ctx context.Context, batchID string) ([]*persistence.JobDefinition, error) {
	var out []*persistence.JobDefinition
	err := s.store.View(ctx, func(tx persistence.Tx) error {
		var err error
		out, err = tx.JobDefinitions(batchID)
		return err
	})
	return out, err
}

func (s *Scheduler) singleJob(ctx context.Context, batchID string, definition func(*persistence.Batch) string) (*persistence.Job, error) {
	var out *persistence.Job
	err := s.store.View(ctx, func(tx persistence.Tx) error {
		b, err := tx.Batch(batchID)
		if err != nil {
			return err
		}
		jobs, err := tx.Jobs(persistence.JobQuery{BatchID: b.ID, JobDefinitionID: definition(b)})
		if err != nil || len(jobs) == 0 {
			return err
		}
		out = jobs[0]
		return nil
	})
	if process.IsNotFound(err) {
		return nil, nil
	}
	return out, err
}

// Delete removes a batch with its jobs, job definitions and runtime
// incidents. Pending jobs are gone once Delete returns. With cascade the
// historic batch and its historic incidents are removed too, otherwise the
// historic batch is ended.
func (s *Scheduler) Delete(ctx context.Context, id string, cascade bool) error {
	if id == "" {
		return process.Validationf("batch id is null")
	}
	err := s.store.Update(ctx, func(tx persistence.Tx) error {
		b, err := tx.Batch(id)
		if process.IsNotFound(err) {
			return process.NotFoundf("Batch for id '%s' cannot be found", id)
		}
		if err != nil {
			return err
		}
		if err := removeBatch(tx, b); err != nil {
			return err
		}
		if !cascade {
			return endHistoricBatch(tx, id, s.now().UTC())
		}
		return removeHistory(tx, id)
	})
	if err != nil {
		return err
	}
	s.logger.WithContext(ctx).Info("batch %s deleted (cascade=%t)", id, cascade)
	return nil
}

// removeBatch deletes every runtime record of b. Each failure is collected
// and the transaction is rolled back as a whole.
func removeBatch(tx persistence.Tx, b *persistence.Batch) error {
	var errs error
	jobs, err := tx.Jobs(persistence.JobQuery{BatchID: b.ID})
	errs = multierr.Append(errs, err)
	for _, j := range jobs {
		errs = multierr.Append(errs, tx.DeleteJob(j.ID))
	}
	defs, err := tx.JobDefinitions(b.ID)
	errs = multierr.Append(errs, err)
	for _, d := range defs {
		errs = multierr.Append(errs, tx.DeleteJobDefinition(d.ID))
	}
	incidents, err := tx.Incidents(persistence.IncidentQuery{BatchID: b.ID})
	errs = multierr.Append(errs, err)
	for _, inc := range incidents {
		errs = multierr.Append(errs, tx.DeleteIncident(inc.ID))
	}
	return multierr.Append(errs, tx.DeleteBatch(b.ID))
}

func removeHistory(tx persistence.Tx, batchID string) error {
	var errs error
	incidents, err := tx.HistoricIncidents(persistence.IncidentQuery{BatchID: batchID})
	errs = multierr.Append(errs, err)
	for _, inc := range incidents {
		errs = multierr.Append(errs, tx.DeleteHistoricIncident(inc.ID))
	}
	return multierr.Append(errs, tx.DeleteHistoricBatch(batchID))
}

func endHistoricBatch(tx persistence.Tx, batchID string, at time.Time) error {
	h, err := tx.HistoricBatch(batchID)
	if process.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	h.EndTime = &at
	return tx.PutHistoricBatch(h)
}
