package persistence

import "time"

// InstanceQuery selects running instances. Empty fields match everything.
type InstanceQuery struct {
	IDs           []string `json:"processInstanceIds,omitempty" yaml:"ids,omitempty"`
	DefinitionID  string   `json:"processDefinitionId,omitempty" yaml:"definitionId,omitempty"`
	DefinitionKey string   `json:"processDefinitionKey,omitempty" yaml:"definitionKey,omitempty"`
	BusinessKey   string   `json:"businessKey,omitempty" yaml:"businessKey,omitempty"`
	TenantID      string   `json:"tenantId,omitempty" yaml:"tenantId,omitempty"`
}

// Match reports whether rec satisfies the query.
func (q InstanceQuery) Match(rec *InstanceRecord) bool {
	if rec == nil {
		return false
	}
	return matchIDs(q.IDs, rec.ID) &&
		matchString(q.DefinitionID, rec.DefinitionID) &&
		matchString(q.DefinitionKey, rec.DefinitionKey) &&
		matchString(q.BusinessKey, rec.BusinessKey) &&
		matchString(q.TenantID, rec.TenantID)
}

// HistoricInstanceQuery selects historic instances.
type HistoricInstanceQuery struct {
	IDs           []string `json:"processInstanceIds,omitempty" yaml:"ids,omitempty"`
	DefinitionID  string   `json:"processDefinitionId,omitempty" yaml:"definitionId,omitempty"`
	DefinitionKey string   `json:"processDefinitionKey,omitempty" yaml:"definitionKey,omitempty"`
	State         string   `json:"state,omitempty" yaml:"state,omitempty"`
	Finished      bool     `json:"finished,omitempty" yaml:"finished,omitempty"`
}

func (q HistoricInstanceQuery) Match(rec *HistoricInstance) bool {
	if rec == nil {
		return false
	}
	if q.Finished && rec.EndTime == nil {
		return false
	}
	return matchIDs(q.IDs, rec.ID) &&
		matchString(q.DefinitionID, rec.DefinitionID) &&
		matchString(q.DefinitionKey, rec.DefinitionKey) &&
		matchString(q.State, rec.State)
}

// JobQuery selects jobs.
type JobQuery struct {
	Type              string
	BatchID           string
	JobDefinitionID   string
	ProcessInstanceID string
	// Acquirable restricts to jobs a worker may take at Now.
	Acquirable bool
	Now        time.Time
	// WithoutRetries restricts to jobs that exhausted their retries.
	WithoutRetries bool
}

func (q JobQuery) Match(job *Job) bool {
	if job == nil {
		return false
	}
	if q.Acquirable && !job.Acquirable(q.Now) {
		return false
	}
	if q.WithoutRetries && job.Retries > 0 {
		return false
	}
	return matchString(q.Type, job.Type) &&
		matchString(q.BatchID, job.BatchID) &&
		matchString(q.JobDefinitionID, job.JobDefinitionID) &&
		matchString(q.ProcessInstanceID, job.ProcessInstanceID)
}

// IncidentQuery selects runtime or historic incidents.
type IncidentQuery struct {
	JobID             string
	JobDefinitionID   string
	BatchID           string
	ProcessInstanceID string
}

func (q IncidentQuery) Match(inc *Incident) bool {
	if inc == nil {
		return false
	}
	return matchString(q.JobID, inc.JobID) &&
		matchString(q.JobDefinitionID, inc.JobDefinitionID) &&
		matchString(q.BatchID, inc.BatchID) &&
		matchString(q.ProcessInstanceID, inc.ProcessInstanceID)
}

func matchString(want, got string) bool {
	return want == "" || want == got
}

func matchIDs(ids []string, id string) bool {
	if len(ids) == 0 {
		return true
	}
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
