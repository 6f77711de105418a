package batch

import (
	"context"
	"fmt"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/job"
	"github.com/goliatone/go-process/modification"
	"github.com/goliatone/go-process/persistence"
)

// Handlers returns the job handlers that drive batches. Register them with
// the job executor.
func (s *Scheduler) Handlers() []job.Handler {
	return []job.Handler{
		job.HandlerFunc{JobType: persistence.JobTypeSeed, Fn: s.runSeed},
		job.HandlerFunc{JobType: persistence.JobTypeMonitor, Fn: s.runMonitor},
		job.HandlerFunc{JobType: TypeModification, Fn: s.runExecution},
		job.HandlerFunc{JobType: TypeRestart, Fn: s.runExecution},
	}
}

// runSeed creates one page of execution jobs. It reschedules itself while
// ids remain and hands over to the monitor job after the last page.
func (s *Scheduler) runSeed(ctx context.Context, j *persistence.Job) error {
	return s.store.Update(ctx, func(tx persistence.Tx) error {
		b, err := tx.Batch(j.BatchID)
		if process.IsNotFound(err) {
			return tx.DeleteJob(j.ID)
		}
		if err != nil {
			return err
		}
		cfg, err := DecodeConfiguration(b)
		if err != nil {
			return err
		}
		execDef, err := tx.JobDefinition(b.BatchJobDefinitionID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		invocations := max(b.InvocationsPerBatchJob, 1)
		for created := 0; created < b.BatchJobsPerSeed && b.JobsCreated < b.TotalJobs; created++ {
			from := b.JobsCreated * invocations
			to := min(from+invocations, len(cfg.InstanceIDs))
			exec := s.newJob(b, execDef, now)
			exec.InstanceIDs = append([]string(nil), cfg.InstanceIDs[from:to]...)
			if err := tx.PutJob(exec); err != nil {
				return err
			}
			b.JobsCreated++
		}
		if err := tx.PutBatch(b); err != nil {
			return err
		}

		if b.JobsCreated < b.TotalJobs {
			return job.Reschedule(tx, j, now)
		}
		if err := tx.DeleteJob(j.ID); err != nil {
			return err
		}
		monitorDef, err := tx.JobDefinition(b.MonitorJobDefinitionID)
		if err != nil {
			return err
		}
		s.logger.WithContext(ctx).Debug("batch %s seeded %d jobs", b.ID, b.JobsCreated)
		return tx.PutJob(s.newJob(b, monitorDef, now))
	})
}

// runExecution applies the batch operation to every instance of the page.
// Each instance is removed from the job once done, so a retry resumes with
// the instances that are left.
func (s *Scheduler) runExecution(ctx context.Context, j *persistence.Job) error {
	var (
		b   *persistence.Batch
		cfg *Configuration
	)
	err := s.store.Update(ctx, func(tx persistence.Tx) error {
		var err error
		if b, err = tx.Batch(j.BatchID); err != nil {
			return err
		}
		if cfg, err = DecodeConfiguration(b); err != nil {
			return err
		}
		if b.ExecutionStartTime == nil {
			now := s.now().UTC()
			b.ExecutionStartTime = &now
			return tx.PutBatch(b)
		}
		return nil
	})
	if process.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	pending, err := s.pendingInstances(ctx, j)
	if err != nil {
		return err
	}
	logger := s.logger.WithContext(ctx)
	for _, id := range pending {
		if err := s.executeOne(ctx, b.Type, cfg, id); err != nil {
			return err
		}
		if err := s.markDone(ctx, j.ID, id); err != nil {
			return err
		}
		logger.Debug("batch %s: instance %s done", b.ID, id)
	}
	return nil
}

func (s *Scheduler) executeOne(ctx context.Context, batchType string, cfg *Configuration, id string) error {
	switch batchType {
	case TypeModification:
		if s.modifier == nil {
			return process.Internalf("no modifier configured for batch type '%s'", batchType)
		}
		err := s.modifier.ExecuteModification(ctx, modification.Command{
			ProcessInstanceID: id,
			Instructions:      cfg.Instructions,
			Flags:             cfg.Flags,
			Annotation:        cfg.Annotation,
		})
		return instanceFailure(err, "Process instance '%s' cannot be modified", id)
	case TypeRestart:
		if s.restarter == nil {
			return process.Internalf("no restarter configured for batch type '%s'", batchType)
		}
		err := s.restarter.RestartInstance(ctx, cfg.ProcessDefinitionID, id, cfg.RestartOptions())
		return instanceFailure(err, "Process instance '%s' cannot be restarted", id)
	}
	return process.Validationf("unknown batch type '%s'", batchType)
}

// pendingInstances reads the ids still left on the job.
func (s *Scheduler) pendingInstances(ctx context.Context, j *persistence.Job) ([]string, error) {
	var ids []string
	err := s.store.View(ctx, func(tx persistence.Tx) error {
		current, err := tx.Job(j.ID)
		if err != nil {
			return err
		}
		ids = current.InstanceIDs
		return nil
	})
	if process.IsNotFound(err) {
		return nil, nil
	}
	return ids, err
}

func (s *Scheduler) markDone(ctx context.Context, jobID, instanceID string) error {
	return s.store.Update(ctx, func(tx persistence.Tx) error {
		current, err := tx.Job(jobID)
		if process.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		left := current.InstanceIDs[:0]
		for _, id := range current.InstanceIDs {
			if id != instanceID {
				left = append(left, id)
			}
		}
		current.InstanceIDs = left
		return tx.PutJob(current)
	})
}

// runMonitor completes the batch once every execution job is gone and
// otherwise polls again later. Failed jobs keep the batch open.
func (s *Scheduler) runMonitor(ctx context.Context, j *persistence.Job) error {
	return s.store.Update(ctx, func(tx persistence.Tx) error {
		b, err := tx.Batch(j.BatchID)
		if process.IsNotFound(err) {
			return tx.DeleteJob(j.ID)
		}
		if err != nil {
			return err
		}
		remaining, err := tx.Jobs(persistence.JobQuery{BatchID: b.ID, JobDefinitionID: b.BatchJobDefinitionID})
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if len(remaining) > 0 || b.JobsCreated < b.TotalJobs {
			return job.Reschedule(tx, j, now.Add(s.pollInterval))
		}
		if err := removeBatch(tx, b); err != nil {
			return err
		}
		s.logger.WithContext(ctx).Info("batch %s completed", b.ID)
		return endHistoricBatch(tx, b.ID, now)
	})
}

// instanceFailure prefixes err with the failing instance and keeps its
// category so the executor can tell conflicts from permanent failures.
func instanceFailure(err error, format, id string) error {
	if err == nil {
		return nil
	}
	base := process.ErrInternal
	switch {
	case process.IsValidation(err):
		base = process.ErrValidation
	case process.IsInstanceState(err), process.IsNotFound(err):
		base = process.ErrInstanceState
	case process.IsTransient(err):
		base = process.ErrTransientStore
	}
	msg := fmt.Sprintf(format, id) + ": " + process.Message(err)
	return process.NewError(base, msg, err, map[string]any{"process_instance_id": id})
}
