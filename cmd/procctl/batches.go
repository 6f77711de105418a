package main

import (
	"context"
	"time"

	"github.com/goliatone/go-process/batch"
	"github.com/goliatone/go-process/modification"
	"github.com/goliatone/go-process/persistence"
)

func (c *RestartCmd) submission(instructions []modification.Instruction, query *persistence.HistoricInstanceQuery) batch.Submission {
	return batch.Submission{
		ProcessDefinitionID:   c.Definition,
		Instructions:          instructions,
		InstanceIDs:           c.Instance,
		HistoricQuery:         query,
		Flags:                 c.flags(),
		InitialSetOfVariables: c.InitialVariables,
		WithoutBusinessKey:    c.WithoutBusinessKey,
		Annotation:            c.Annotation,
	}
}

// ModifyBatchCmd creates a modification batch over many instances.
type ModifyBatchCmd struct {
	Definition   string   `arg:"" help:"Process definition id every instance must belong to."`
	Instructions []string `arg:"" optional:"" help:"Instructions in order, <kind>:<target>."`
	File         string   `short:"f" type:"existingfile" help:"YAML or JSON instruction list applied before the arguments."`
	Instance     []string `short:"i" help:"Process instance id to modify."`
	BusinessKey  string   `help:"Also modify the running instances with this business key."`
	AllRunning   bool     `help:"Also modify every running instance of the definition."`
	Annotation   string   `help:"Free text recorded with the batch."`
	FlagsOpts
}

func (c *ModifyBatchCmd) Run(g *Globals) error {
	instructions, err := collectInstructions(c.File, c.Instructions)
	if err != nil {
		return err
	}
	var query *persistence.InstanceQuery
	if c.AllRunning || c.BusinessKey != "" {
		query = &persistence.InstanceQuery{DefinitionID: c.Definition, BusinessKey: c.BusinessKey}
	}
	return g.with(func(ctx context.Context, s *session) error {
		b, err := s.engine.ExecuteModificationAsync(ctx, batch.Submission{
			ProcessDefinitionID: c.Definition,
			Instructions:        instructions,
			InstanceIDs:         c.Instance,
			InstanceQuery:       query,
			Flags:               c.flags(),
			Annotation:          c.Annotation,
			TenantID:            s.cfg.Engine.Tenant,
		})
		if err != nil {
			return err
		}
		return g.print(b)
	})
}

type BatchCmd struct {
	Modify ModifyBatchCmd `cmd:"" help:"Create a modification batch."`
	List   BatchListCmd   `cmd:"" help:"List running batches."`
	Show   BatchShowCmd   `cmd:"" help:"Show a batch, its jobs and its history."`
	Stats  BatchStatsCmd  `cmd:"" help:"Show execution job statistics of a batch."`
	Delete BatchDeleteCmd `cmd:"" help:"Delete a batch and its pending jobs."`
}

type BatchListCmd struct{}

func (c *BatchListCmd) Run(g *Globals) error {
	return g.with(func(ctx context.Context, s *session) error {
		batches, err := s.engine.Batches(ctx)
		if err != nil {
			return err
		}
		return g.print(batches)
	})
}

type BatchShowCmd struct {
	ID string `arg:"" help:"Batch id."`
}

type batchDetails struct {
	Batch         *persistence.Batch         `json:"batch,omitempty"`
	History       *persistence.HistoricBatch `json:"history,omitempty"`
	SeedJob       *persistence.Job           `json:"seedJob,omitempty"`
	MonitorJob    *persistence.Job           `json:"monitorJob,omitempty"`
	ExecutionJobs []*persistence.Job         `json:"executionJobs,omitempty"`
}

func (c *BatchShowCmd) Run(g *Globals) error {
	return g.with(func(ctx context.Context, s *session) error {
		history, err := s.engine.HistoricBatch(ctx, c.ID)
		if err != nil {
			return err
		}
		out := batchDetails{History: history}
		if history.EndTime != nil {
			return g.print(out)
		}
		if out.Batch, err = s.engine.Batch(ctx, c.ID); err != nil {
			return err
		}
		if out.SeedJob, err = s.engine.GetSeedJob(ctx, c.ID); err != nil {
			return err
		}
		if out.MonitorJob, err = s.engine.GetMonitorJob(ctx, c.ID); err != nil {
			return err
		}
		if out.ExecutionJobs, err = s.engine.GetExecutionJobs(ctx, c.ID); err != nil {
			return err
		}
		return g.print(out)
	})
}

type BatchStatsCmd struct {
	ID string `arg:"" help:"Batch id."`
}

func (c *BatchStatsCmd) Run(g *Globals) error {
	return g.with(func(ctx context.Context, s *session) error {
		stats, err := s.engine.BatchStatistics(ctx, c.ID)
		if err != nil {
			return err
		}
		return g.print(stats)
	})
}

type BatchDeleteCmd struct {
	ID      string `arg:"" help:"Batch id."`
	Cascade bool   `help:"Also delete the batch history and its historic incidents."`
}

func (c *BatchDeleteCmd) Run(g *Globals) error {
	return g.with(func(ctx context.Context, s *session) error {
		return s.engine.DeleteBatch(ctx, c.ID, c.Cascade)
	})
}

type JobsCmd struct {
	List  JobsListCmd  `cmd:"" default:"withargs" help:"List jobs."`
	Exec  JobsExecCmd  `cmd:"" help:"Execute one job now, whatever its due date."`
	Drain JobsDrainCmd `cmd:"" help:"Run acquisition cycles until no job is due."`
}

type JobsListCmd struct {
	Type     string `help:"Filter by job type."`
	Batch    string `help:"Filter by batch id."`
	Instance string `help:"Filter by process instance id."`
	Failed   bool   `help:"Only jobs without retries left."`
}

func (c *JobsListCmd) Run(g *Globals) error {
	return g.with(func(ctx context.Context, s *session) error {
		jobs, err := s.engine.Jobs(ctx, persistence.JobQuery{
			Type:              c.Type,
			BatchID:           c.Batch,
			ProcessInstanceID: c.Instance,
			WithoutRetries:    c.Failed,
		})
		if err != nil {
			return err
		}
		return g.print(jobs)
	})
}

type JobsExecCmd struct {
	ID string `arg:"" help:"Job id."`
}

func (c *JobsExecCmd) Run(g *Globals) error {
	return g.with(func(ctx context.Context, s *session) error {
		return s.engine.ExecuteJob(ctx, c.ID)
	})
}

type JobsDrainCmd struct {
	MaxCycles int `default:"100" help:"Upper bound on acquisition cycles."`
}

type runSummary struct {
	Cycles   int `json:"cycles"`
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
}

func (c *JobsDrainCmd) Run(g *Globals) error {
	return g.with(func(ctx context.Context, s *session) error {
		var summary runSummary
		for summary.Cycles < c.MaxCycles {
			report, err := s.engine.Executor().RunOnce(ctx)
			if err != nil {
				return err
			}
			summary.Cycles++
			summary.Executed += report.Executed
			summary.Failed += report.Failed
			if report.Acquired == 0 {
				break
			}
		}
		return g.print(summary)
	})
}

type IncidentsCmd struct {
	Batch    string `help:"Filter by batch id."`
	Instance string `help:"Filter by process instance id."`
	Job      string `help:"Filter by job id."`
	History  bool   `help:"List historic incidents, including resolved ones."`
}

func (c *IncidentsCmd) Run(g *Globals) error {
	q := persistence.IncidentQuery{BatchID: c.Batch, ProcessInstanceID: c.Instance, JobID: c.Job}
	return g.with(func(ctx context.Context, s *session) error {
		var (
			incidents []*persistence.Incident
			err       error
		)
		if c.History {
			incidents, err = s.engine.HistoricIncidents(ctx, q)
		} else {
			incidents, err = s.engine.Incidents(ctx, q)
		}
		if err != nil {
			return err
		}
		return g.print(incidents)
	})
}

type CleanupCmd struct {
	Retention time.Duration `help:"Keep history that ended within this window. Defaults to history.retention."`
}

func (c *CleanupCmd) Run(g *Globals) error {
	return g.with(func(ctx context.Context, s *session) error {
		retention := c.Retention
		if retention <= 0 {
			retention = s.cfg.History.Retention
		}
		report, err := s.engine.CleanupHistory(ctx, retention)
		if err != nil {
			return err
		}
		return g.print(report)
	})
}
