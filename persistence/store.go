package persistence

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	process "github.com/goliatone/go-process"
)

// Buckets holding each record kind.
const (
	BucketInstances         = "instances"
	BucketJobs              = "jobs"
	BucketJobDefinitions    = "job_definitions"
	BucketBatches           = "batches"
	BucketIncidents         = "incidents"
	BucketHistoricInstances = "historic_instances"
	BucketHistoricVariables = "historic_variables"
	BucketHistoricIncidents = "historic_incidents"
	BucketHistoricBatches   = "historic_batches"
)

// Buckets lists every bucket a store must provide.
var Buckets = []string{
	BucketInstances,
	BucketJobs,
	BucketJobDefinitions,
	BucketBatches,
	BucketIncidents,
	BucketHistoricInstances,
	BucketHistoricVariables,
	BucketHistoricIncidents,
	BucketHistoricBatches,
}

// Store runs transactions against durable state. Update commits when fn
// returns nil and discards every write otherwise.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tx is the typed view of one transaction. Lookups of missing records return
// a NotFound error.
type Tx interface {
	Instance(id string) (*InstanceRecord, error)
	Instances(q InstanceQuery) ([]*InstanceRecord, error)
	// SaveInstance writes rec when the stored version equals expected and
	// bumps rec.Version. Zero expects the instance to be absent.
	SaveInstance(rec *InstanceRecord, expected int) error
	DeleteInstance(id string) error

	Job(id string) (*Job, error)
	Jobs(q JobQuery) ([]*Job, error)
	PutJob(job *Job) error
	DeleteJob(id string) error

	JobDefinition(id string) (*JobDefinition, error)
	JobDefinitions(batchID string) ([]*JobDefinition, error)
	PutJobDefinition(def *JobDefinition) error
	DeleteJobDefinition(id string) error

	Batch(id string) (*Batch, error)
	Batches() ([]*Batch, error)
	PutBatch(b *Batch) error
	DeleteBatch(id string) error

	Incidents(q IncidentQuery) ([]*Incident, error)
	PutIncident(inc *Incident) error
	DeleteIncident(id string) error

	HistoricInstance(id string) (*HistoricInstance, error)
	HistoricInstances(q HistoricInstanceQuery) ([]*HistoricInstance, error)
	PutHistoricInstance(h *HistoricInstance) error
	DeleteHistoricInstance(id string) error

	HistoricVariables(processInstanceID string) ([]*HistoricVariable, error)
	PutHistoricVariable(v *HistoricVariable) error
	DeleteHistoricVariable(id string) error

	HistoricIncidents(q IncidentQuery) ([]*Incident, error)
	PutHistoricIncident(inc *Incident) error
	DeleteHistoricIncident(id string) error

	HistoricBatch(id string) (*HistoricBatch, error)
	HistoricBatches() ([]*HistoricBatch, error)
	PutHistoricBatch(b *HistoricBatch) error
	DeleteHistoricBatch(id string) error
}

// KV is the raw bucketed key value access a backend provides inside one
// transaction. Get returns nil for missing keys.
type KV interface {
	Get(bucket, key string) ([]byte, error)
	Put(bucket, key string, value []byte) error
	Delete(bucket, key string) error
	ForEach(bucket string, fn func(key string, value []byte) error) error
}

// NewTx adapts kv into a typed transaction encoding records as JSON.
func NewTx(kv KV) Tx {
	return &kvTx{kv: kv}
}

type kvTx struct {
	kv KV
}

func get[T any](kv KV, bucket, id, kind string) (*T, error) {
	if id == "" {
		return nil, process.Validationf("%s id is null", kind)
	}
	data, err := kv.Get(bucket, id)
	if err != nil {
		return nil, process.Transient("read "+kind, err, map[string]any{"id": id})
	}
	if data == nil {
		return nil, process.NotFoundf("%s '%s' does not exist", kind, id)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, process.NewError(process.ErrInternal, "decode "+kind, err, map[string]any{"id": id})
	}
	return out, nil
}

func put(kv KV, bucket, id, kind string, v any) error {
	if id == "" {
		return process.Validationf("%s id is null", kind)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return process.NewError(process.ErrInternal, "encode "+kind, err, map[string]any{"id": id})
	}
	if err := kv.Put(bucket, id, data); err != nil {
		return process.Transient("write "+kind, err, map[string]any{"id": id})
	}
	return nil
}

func del(kv KV, bucket, id, kind string) error {
	if err := kv.Delete(bucket, id); err != nil {
		return process.Transient("delete "+kind, err, map[string]any{"id": id})
	}
	return nil
}

func list[T any](kv KV, bucket, kind string, match func(*T) bool) ([]*T, error) {
	var out []*T
	err := kv.ForEach(bucket, func(key string, value []byte) error {
		item := new(T)
		if err := json.Unmarshal(value, item); err != nil {
			return process.NewError(process.ErrInternal, "decode "+kind, err, map[string]any{"id": key})
		}
		if match == nil || match(item) {
			out = append(out, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (tx *kvTx) Instance(id string) (*InstanceRecord, error) {
	return get[InstanceRecord](tx.kv, BucketInstances, id, "process instance")
}

func (tx *kvTx) Instances(q InstanceQuery) ([]*InstanceRecord, error) {
	out, err := list(tx.kv, BucketInstances, "process instance", q.Match)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *kvTx) SaveInstance(rec *InstanceRecord, expected int) error {
	if rec == nil {
		return process.Validationf("process instance is null")
	}
	current, err := tx.Instance(rec.ID)
	switch {
	case process.IsNotFound(err):
		if expected != 0 {
			return process.InstanceStatef("Process instance '%s' does not exist", rec.ID)
		}
	case err != nil:
		return err
	case current.Version != expected:
		return process.Transient("version conflict", nil, map[string]any{
			"process_instance_id": rec.ID,
			"expected_version":    expected,
			"current_version":     current.Version,
		})
	}
	rec.Version = expected + 1
	rec.UpdatedAt = time.Now().UTC()
	return put(tx.kv, BucketInstances, rec.ID, "process instance", rec)
}

func (tx *kvTx) DeleteInstance(id string) error {
	return del(tx.kv, BucketInstances, id, "process instance")
}

func (tx *kvTx) Job(id string) (*Job, error) {
	return get[Job](tx.kv, BucketJobs, id, "job")
}

// Jobs returns matches ordered by priority, due date, then id.
func (tx *kvTx) Jobs(q JobQuery) ([]*Job, error) {
	out, err := list(tx.kv, BucketJobs, "job", q.Match)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (tx *kvTx) PutJob(job *Job) error {
	if job == nil {
		return process.Validationf("job is null")
	}
	return put(tx.kv, BucketJobs, job.ID, "job", job)
}

func (tx *kvTx) DeleteJob(id string) error {
	return del(tx.kv, BucketJobs, id, "job")
}

func (tx *kvTx) JobDefinition(id string) (*JobDefinition, error) {
	return get[JobDefinition](tx.kv, BucketJobDefinitions, id, "job definition")
}

func (tx *kvTx) JobDefinitions(batchID string) ([]*JobDefinition, error) {
	out, err := list(tx.kv, BucketJobDefinitions, "job definition", func(d *JobDefinition) bool {
		return batchID == "" || d.BatchID == batchID
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *kvTx) PutJobDefinition(def *JobDefinition) error {
	if def == nil {
		return process.Validationf("job definition is null")
	}
	return put(tx.kv, BucketJobDefinitions, def.ID, "job definition", def)
}

func (tx *kvTx) DeleteJobDefinition(id string) error {
	return del(tx.kv, BucketJobDefinitions, id, "job definition")
}

func (tx *kvTx) Batch(id string) (*Batch, error) {
	return get[Batch](tx.kv, BucketBatches, id, "batch")
}

func (tx *kvTx) Batches() ([]*Batch, error) {
	out, err := list[Batch](tx.kv, BucketBatches, "batch", nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (tx *kvTx) PutBatch(b *Batch) error {
	if b == nil {
		return process.Validationf("batch is null")
	}
	return put(tx.kv, BucketBatches, b.ID, "batch", b)
}

func (tx *kvTx) DeleteBatch(id string) error {
	return del(tx.kv, BucketBatches, id, "batch")
}

func (tx *kvTx) Incidents(q IncidentQuery) ([]*Incident, error) {
	return listIncidents(tx.kv, BucketIncidents, q)
}

func (tx *kvTx) PutIncident(inc *Incident) error {
	if inc == nil {
		return process.Validationf("incident is null")
	}
	return put(tx.kv, BucketIncidents, inc.ID, "incident", inc)
}

func (tx *kvTx) DeleteIncident(id string) error {
	return del(tx.kv, BucketIncidents, id, "incident")
}

func (tx *kvTx) HistoricInstance(id string) (*HistoricInstance, error) {
	return get[HistoricInstance](tx.kv, BucketHistoricInstances, id, "historic process instance")
}

func (tx *kvTx) HistoricInstances(q HistoricInstanceQuery) ([]*HistoricInstance, error) {
	out, err := list(tx.kv, BucketHistoricInstances, "historic process instance", q.Match)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *kvTx) PutHistoricInstance(h *HistoricInstance) error {
	if h == nil {
		return process.Validationf("historic process instance is null")
	}
	return put(tx.kv, BucketHistoricInstances, h.ID, "historic process instance", h)
}

func (tx *kvTx) DeleteHistoricInstance(id string) error {
	return del(tx.kv, BucketHistoricInstances, id, "historic process instance")
}

func (tx *kvTx) HistoricVariables(processInstanceID string) ([]*HistoricVariable, error) {
	out, err := list(tx.kv, BucketHistoricVariables, "historic variable", func(v *HistoricVariable) bool {
		return v.ProcessInstanceID == processInstanceID
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *kvTx) PutHistoricVariable(v *HistoricVariable) error {
	if v == nil {
		return process.Validationf("historic variable is null")
	}
	if v.ID == "" {
		v.ID = HistoricVariableID(v.ScopeInstanceID, v.Name)
	}
	return put(tx.kv, BucketHistoricVariables, v.ID, "historic variable", v)
}

func (tx *kvTx) DeleteHistoricVariable(id string) error {
	return del(tx.kv, BucketHistoricVariables, id, "historic variable")
}

func (tx *kvTx) HistoricIncidents(q IncidentQuery) ([]*Incident, error) {
	return listIncidents(tx.kv, BucketHistoricIncidents, q)
}

func (tx *kvTx) PutHistoricIncident(inc *Incident) error {
	if inc == nil {
		return process.Validationf("historic incident is null")
	}
	return put(tx.kv, BucketHistoricIncidents, inc.ID, "historic incident", inc)
}

func (tx *kvTx) DeleteHistoricIncident(id string) error {
	return del(tx.kv, BucketHistoricIncidents, id, "historic incident")
}

func (tx *kvTx) HistoricBatch(id string) (*HistoricBatch, error) {
	return get[HistoricBatch](tx.kv, BucketHistoricBatches, id, "historic batch")
}

func (tx *kvTx) HistoricBatches() ([]*HistoricBatch, error) {
	out, err := list(tx.kv, BucketHistoricBatches, "historic batch", func(*HistoricBatch) bool { return true })
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *kvTx) PutHistoricBatch(b *HistoricBatch) error {
	if b == nil {
		return process.Validationf("historic batch is null")
	}
	return put(tx.kv, BucketHistoricBatches, b.ID, "historic batch", b)
}

func (tx *kvTx) DeleteHistoricBatch(id string) error {
	return del(tx.kv, BucketHistoricBatches, id, "historic batch")
}

func listIncidents(kv KV, bucket string, q IncidentQuery) ([]*Incident, error) {
	out, err := list(kv, bucket, "incident", q.Match)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
