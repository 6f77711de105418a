// Package batch spreads instance modifications and restarts over many
// process instances. A batch is driven by three jobs: a seed job creating
// the execution jobs page by page, the execution jobs themselves, and a
// monitor job completing the batch once no execution job is left.
package batch

import (
	"context"
	"encoding/json"
	"time"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/model"
	"github.com/goliatone/go-process/modification"
	"github.com/goliatone/go-process/operation"
	"github.com/goliatone/go-process/persistence"
	"github.com/goliatone/go-process/restart"
)

// Batch types.
const (
	TypeModification = persistence.JobTypeModification
	TypeRestart      = persistence.JobTypeRestart
)

const configurationVersion = 1

// Modifier applies one modification command to one process instance.
type Modifier interface {
	ExecuteModification(ctx context.Context, cmd modification.Command) error
}

// Restarter restarts one historic process instance.
type Restarter interface {
	RestartInstance(ctx context.Context, definitionID, historicInstanceID string, opts restart.Options) error
}

// Definitions resolves process definitions by id.
type Definitions interface {
	Get(id string) (*model.Definition, error)
}

// Configuration is the versioned payload stored on a batch. InstanceIDs is
// resolved once at submission.
type Configuration struct {
	Version               int                        `json:"version"`
	ProcessDefinitionID   string                     `json:"processDefinitionId"`
	Instructions          []modification.Instruction `json:"instructions"`
	InstanceIDs           []string                   `json:"instanceIds"`
	Flags                 operation.Flags            `json:"flags"`
	InitialSetOfVariables bool                       `json:"initialSetOfVariables,omitempty"`
	WithoutBusinessKey    bool                       `json:"withoutBusinessKey,omitempty"`
	Annotation            string                     `json:"annotation,omitempty"`
}

// DecodeConfiguration reads the configuration of b.
func DecodeConfiguration(b *persistence.Batch) (*Configuration, error) {
	var cfg Configuration
	if err := json.Unmarshal(b.Configuration, &cfg); err != nil {
		return nil, process.NewError(process.ErrInternal, "cannot decode configuration of batch '"+b.ID+"'", err, nil)
	}
	if cfg.Version != configurationVersion {
		return nil, process.Internalf("batch '%s' has unsupported configuration version %d", b.ID, cfg.Version)
	}
	return &cfg, nil
}

// RestartOptions returns the per instance options of a restart batch.
func (c *Configuration) RestartOptions() restart.Options {
	return restart.Options{
		Instructions:          c.Instructions,
		Flags:                 c.Flags,
		InitialSetOfVariables: c.InitialSetOfVariables,
		WithoutBusinessKey:    c.WithoutBusinessKey,
	}
}

// Submission describes a batch to create. Targets are the union of the
// explicit ids and both queries.
type Submission struct {
	Type                  string
	ProcessDefinitionID   string
	Instructions          []modification.Instruction
	InstanceIDs           []string
	InstanceQuery         *persistence.InstanceQuery
	HistoricQuery         *persistence.HistoricInstanceQuery
	Flags                 operation.Flags
	InitialSetOfVariables bool
	WithoutBusinessKey    bool
	Annotation            string
	TenantID              string
	UserID                string
}

// Statistics summarizes the execution jobs of a batch. Failed jobs have no
// retries left and still count as remaining.
type Statistics struct {
	BatchID       string `json:"batchId"`
	Type          string `json:"type"`
	TotalJobs     int    `json:"totalJobs"`
	JobsCreated   int    `json:"jobsCreated"`
	RemainingJobs int    `json:"remainingJobs"`
	CompletedJobs int    `json:"completedJobs"`
	FailedJobs    int    `json:"failedJobs"`
}

// Scheduler creates batches and runs their jobs through the job executor.
type Scheduler struct {
	store       persistence.Store
	definitions Definitions
	modifier    Modifier
	restarter   Restarter
	logger      process.Logger
	now         func() time.Time
	newID       process.IDGenerator

	jobsPerSeed       int
	invocationsPerJob int
	invocationsByType map[string]int
	pollInterval      time.Duration
	jobRetries        int
}

func NewScheduler(store persistence.Store, definitions Definitions, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:             store,
		definitions:       definitions,
		logger:            process.NopLogger{},
		now:               time.Now,
		newID:             process.NewID,
		jobsPerSeed:       DefaultJobsPerSeed,
		invocationsPerJob: DefaultInvocationsPerJob,
		invocationsByType: make(map[string]int),
		pollInterval:      DefaultMonitorPollInterval,
		jobRetries:        DefaultJobRetries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = process.NormalizeLogger(s.logger)
	return s
}

// Submit validates sub, resolves its target instances and persists the
// batch, its job definitions and the seed job.
func (s *Scheduler) Submit(ctx context.Context, sub Submission) (*persistence.Batch, error) {
	def, err := s.validate(sub)
	if err != nil {
		return nil, err
	}

	var (
		created *persistence.Batch
		targets int
	)
	err = s.store.Update(ctx, func(tx persistence.Tx) error {
		ids, err := resolveTargets(tx, sub)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return emptyTargets(sub.Type)
		}
		targets = len(ids)
		created, err = s.create(tx, sub, def, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Info("batch %s created: type=%s instances=%d jobs=%d",
		created.ID, created.Type, targets, created.TotalJobs)
	return created, nil
}

func (s *Scheduler) validate(sub Submission) (*model.Definition, error) {
	if sub.ProcessDefinitionID == "" {
		return nil, process.Validationf("processDefinitionId is null")
	}
	switch sub.Type {
	case TypeModification:
		if !hasTargets(sub) {
			return nil, emptyTargets(sub.Type)
		}
		if containsEmpty(sub.InstanceIDs) {
			return nil, process.Validationf("Process instance ids contains null value")
		}
		if len(sub.Instructions) == 0 {
			return nil, process.Validationf("Modification instructions cannot be empty")
		}
		for _, ins := range sub.Instructions {
			if err := ins.Validate(); err != nil {
				return nil, err
			}
		}
	case TypeRestart:
		if err := restart.ValidateInstructions(sub.Instructions); err != nil {
			return nil, err
		}
		if !hasTargets(sub) {
			return nil, emptyTargets(sub.Type)
		}
		if containsEmpty(sub.InstanceIDs) {
			return nil, process.Validationf("processInstanceIds contains null value")
		}
	default:
		return nil, process.Validationf("unknown batch type '%s'", sub.Type)
	}

	def, err := s.definitions.Get(sub.ProcessDefinitionID)
	if err != nil {
		return nil, process.NewError(process.ErrValidation,
			"No process definition found with id '"+sub.ProcessDefinitionID+"': processDefinition is null", err, nil)
	}
	return def, nil
}

func (s *Scheduler) create(tx persistence.Tx, sub Submission, def *model.Definition, ids []string) (*persistence.Batch, error) {
	now := s.now().UTC()
	invocations := s.invocationsFor(sub.Type)
	tenant := sub.TenantID
	if tenant == "" {
		tenant = def.TenantID
	}

	cfg, err := json.Marshal(Configuration{
		Version:               configurationVersion,
		ProcessDefinitionID:   def.ID,
		Instructions:          sub.Instructions,
		InstanceIDs:           ids,
		Flags:                 sub.Flags,
		InitialSetOfVariables: sub.InitialSetOfVariables,
		WithoutBusinessKey:    sub.WithoutBusinessKey,
		Annotation:            sub.Annotation,
	})
	if err != nil {
		return nil, process.NewError(process.ErrInternal, "cannot encode batch configuration", err, nil)
	}

	b := &persistence.Batch{
		ID:                     s.newID(),
		Type:                   sub.Type,
		TotalJobs:              (len(ids) + invocations - 1) / invocations,
		BatchJobsPerSeed:       s.jobsPerSeed,
		InvocationsPerBatchJob: invocations,
		TenantID:               tenant,
		CreateUserID:           sub.UserID,
		CreatedAt:              now,
		Configuration:          cfg,
	}
	seedDef := &persistence.JobDefinition{ID: s.newID(), Type: persistence.JobTypeSeed, BatchID: b.ID, Configuration: b.ID, TenantID: tenant}
	monitorDef := &persistence.JobDefinition{ID: s.newID(), Type: persistence.JobTypeMonitor, BatchID: b.ID, Configuration: b.ID, TenantID: tenant}
	execDef := &persistence.JobDefinition{ID: s.newID(), Type: sub.Type, BatchID: b.ID, Configuration: b.ID, TenantID: tenant}
	b.SeedJobDefinitionID = seedDef.ID
	b.MonitorJobDefinitionID = monitorDef.ID
	b.BatchJobDefinitionID = execDef.ID

	for _, d := range []*persistence.JobDefinition{seedDef, monitorDef, execDef} {
		if err := tx.PutJobDefinition(d); err != nil {
			return nil, err
		}
	}
	if err := tx.PutBatch(b); err != nil {
		return nil, err
	}
	if err := tx.PutHistoricBatch(&persistence.HistoricBatch{
		ID:           b.ID,
		Type:         b.Type,
		TotalJobs:    b.TotalJobs,
		TenantID:     tenant,
		CreateUserID: sub.UserID,
		StartTime:    now,
	}); err != nil {
		return nil, err
	}
	return b, tx.PutJob(s.newJob(b, seedDef, now))
}

func (s *Scheduler) newJob(b *persistence.Batch, def *persistence.JobDefinition, due time.Time) *persistence.Job {
	return &persistence.Job{
		ID:              s.newID(),
		Type:            def.Type,
		JobDefinitionID: def.ID,
		BatchID:         b.ID,
		TenantID:        b.TenantID,
		Retries:         s.jobRetries,
		DueDate:         due,
		CreatedAt:       due,
	}
}

func (s *Scheduler) invocationsFor(batchType string) int {
	if n, ok := s.invocationsByType[batchType]; ok {
		return n
	}
	return s.invocationsPerJob
}

// resolveTargets unions explicit ids with both queries, keeping first
// occurrence order.
func resolveTargets(tx persistence.Tx, sub Submission) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, id := range sub.InstanceIDs {
		add(id)
	}
	if sub.InstanceQuery != nil {
		recs, err := tx.Instances(*sub.InstanceQuery)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			add(rec.ID)
		}
	}
	if sub.HistoricQuery != nil {
		recs, err := tx.HistoricInstances(*sub.HistoricQuery)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			add(rec.ID)
		}
	}
	return ids, nil
}

func hasTargets(sub Submission) bool {
	return len(sub.InstanceIDs) > 0 || sub.InstanceQuery != nil || sub.HistoricQuery != nil
}

func containsEmpty(ids []string) bool {
	for _, id := range ids {
		if id == "" {
			return true
		}
	}
	return false
}

func emptyTargets(batchType string) error {
	if batchType == TypeRestart {
		return process.Validationf("processInstanceIds is empty")
	}
	return process.Validationf("Process instance ids is empty")
}
