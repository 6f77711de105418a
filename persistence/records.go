// Package persistence defines the records and the transactional store the
// engine reads and writes. Implementations live in the memory and bolt
// subpackages.
package persistence

import (
	"encoding/json"
	"time"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/execution"
)

// Job types.
const (
	JobTypeSeed              = "batch-seed-job"
	JobTypeMonitor           = "batch-monitor-job"
	JobTypeModification      = "instance-modification"
	JobTypeRestart           = "instance-restart"
	JobTypeAsyncContinuation = "async-continuation"
)

// Historic instance states.
const (
	StateActive               = "ACTIVE"
	StateCompleted            = "COMPLETED"
	StateExternallyTerminated = "EXTERNALLY_TERMINATED"
)

// IncidentTypeFailedJob marks incidents raised by jobs without retries left.
const IncidentTypeFailedJob = "failedJob"

// InstanceRecord is a running process instance and its execution tree.
type InstanceRecord struct {
	ID                   string             `json:"id"`
	DefinitionID         string             `json:"definitionId"`
	DefinitionKey        string             `json:"definitionKey"`
	BusinessKey          string             `json:"businessKey,omitempty"`
	TenantID             string             `json:"tenantId,omitempty"`
	RootActivityInstance string             `json:"rootActivityInstanceId"`
	Version              int                `json:"version"`
	Tree                 execution.Snapshot `json:"tree"`
	StartedAt            time.Time          `json:"startedAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// Job is a unit of asynchronous work. Batch jobs reference their batch and
// never a process instance; async continuation jobs reference the instance.
type Job struct {
	ID                   string    `json:"id"`
	Type                 string    `json:"type"`
	JobDefinitionID      string    `json:"jobDefinitionId,omitempty"`
	BatchID              string    `json:"batchId,omitempty"`
	InstanceIDs          []string  `json:"instanceIds,omitempty"`
	ProcessInstanceID    string    `json:"processInstanceId,omitempty"`
	TransitionInstanceID string    `json:"transitionInstanceId,omitempty"`
	ActivityID           string    `json:"activityId,omitempty"`
	TenantID             string    `json:"tenantId,omitempty"`
	Retries              int       `json:"retries"`
	Priority             int       `json:"priority,omitempty"`
	DueDate              time.Time `json:"dueDate"`
	LockOwner            string    `json:"lockOwner,omitempty"`
	LockExpiration       time.Time `json:"lockExpiration,omitempty"`
	ExceptionMessage     string    `json:"exceptionMessage,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}

// Locked reports whether a lease on the job is still valid at now.
func (j *Job) Locked(now time.Time) bool {
	return j.LockOwner != "" && now.Before(j.LockExpiration)
}

// Acquirable reports whether a worker may take the job at now.
func (j *Job) Acquirable(now time.Time) bool {
	return j.Retries > 0 && !j.DueDate.After(now) && !j.Locked(now)
}

// JobDefinition groups the jobs of one kind created for a batch.
type JobDefinition struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	BatchID       string `json:"batchId,omitempty"`
	Configuration string `json:"configuration,omitempty"`
	TenantID      string `json:"tenantId,omitempty"`
}

// Batch drives one instance-modification or instance-restart operation over
// many process instances. Configuration is an opaque versioned blob owned by
// the batch package.
type Batch struct {
	ID                     string          `json:"id"`
	Type                   string          `json:"type"`
	TotalJobs              int             `json:"totalJobs"`
	JobsCreated            int             `json:"jobsCreated"`
	BatchJobsPerSeed       int             `json:"batchJobsPerSeed"`
	InvocationsPerBatchJob int             `json:"invocationsPerBatchJob"`
	SeedJobDefinitionID    string          `json:"seedJobDefinitionId"`
	MonitorJobDefinitionID string          `json:"monitorJobDefinitionId"`
	BatchJobDefinitionID   string          `json:"batchJobDefinitionId"`
	TenantID               string          `json:"tenantId,omitempty"`
	CreateUserID           string          `json:"createUserId,omitempty"`
	ExecutionStartTime     *time.Time      `json:"executionStartTime,omitempty"`
	CreatedAt              time.Time       `json:"createdAt"`
	Configuration          json.RawMessage `json:"configuration"`
}

// Incident is a durable failure record raised for a job.
type Incident struct {
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	JobID             string     `json:"jobId"`
	JobDefinitionID   string     `json:"jobDefinitionId,omitempty"`
	BatchID           string     `json:"batchId,omitempty"`
	ProcessInstanceID string     `json:"processInstanceId,omitempty"`
	Message           string     `json:"message"`
	CreatedAt         time.Time  `json:"createdAt"`
	EndTime           *time.Time `json:"endTime,omitempty"`
}

// HistoricInstance outlives the running instance.
type HistoricInstance struct {
	ID                   string     `json:"id"`
	DefinitionID         string     `json:"definitionId"`
	DefinitionKey        string     `json:"definitionKey"`
	BusinessKey          string     `json:"businessKey,omitempty"`
	TenantID             string     `json:"tenantId,omitempty"`
	RootActivityInstance string     `json:"rootActivityInstanceId"`
	StartActivityID      string     `json:"startActivityId,omitempty"`
	State                string     `json:"state"`
	DeleteReason         string     `json:"deleteReason,omitempty"`
	RestartedFrom        string     `json:"restartedFrom,omitempty"`
	StartTime            time.Time  `json:"startTime"`
	EndTime              *time.Time `json:"endTime,omitempty"`
}

// HistoricVariable keeps the latest and the first recorded value of a
// variable. Initial is set for variables passed when the instance started.
type HistoricVariable struct {
	ID                string    `json:"id"`
	ProcessInstanceID string    `json:"processInstanceId"`
	ScopeInstanceID   string    `json:"scopeInstanceId"`
	Name              string    `json:"name"`
	Value             any       `json:"value"`
	InitialValue      any       `json:"initialValue"`
	Initial           bool      `json:"initial"`
	Revision          int       `json:"revision"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (v *HistoricVariable) MarshalJSON() ([]byte, error) {
	type plain HistoricVariable
	return json.Marshal(struct {
		*plain
		Value        process.TypedValue `json:"value"`
		InitialValue process.TypedValue `json:"initialValue"`
	}{plain: (*plain)(v), Value: process.TypedValue{Value: v.Value}, InitialValue: process.TypedValue{Value: v.InitialValue}})
}

func (v *HistoricVariable) UnmarshalJSON(data []byte) error {
	type plain HistoricVariable
	aux := struct {
		*plain
		Value        process.TypedValue `json:"value"`
		InitialValue process.TypedValue `json:"initialValue"`
	}{plain: (*plain)(v)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	v.Value = aux.Value.Value
	v.InitialValue = aux.InitialValue.Value
	return nil
}

// HistoricVariableID derives a stable id for a variable of a scope instance.
func HistoricVariableID(scopeInstanceID, name string) string {
	return scopeInstanceID + "/" + name
}

// HistoricBatch records a batch after it completed or was deleted.
type HistoricBatch struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	TotalJobs    int        `json:"totalJobs"`
	TenantID     string     `json:"tenantId,omitempty"`
	CreateUserID string     `json:"createUserId,omitempty"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
}
