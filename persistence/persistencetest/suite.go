// Package persistencetest holds behaviour shared by every persistence.Store.
package persistencetest

import (
	"context"
	"errors"
	"testing"
	"time"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/execution"
	"github.com/goliatone/go-process/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) persistence.Store

// Run exercises the store contract against stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("instance round trip", func(t *testing.T) { instanceRoundTrip(t, factory(t)) })
	t.Run("version conflict is transient", func(t *testing.T) { versionConflict(t, factory(t)) })
	t.Run("failed update rolls back", func(t *testing.T) { rollback(t, factory(t)) })
	t.Run("view rejects writes", func(t *testing.T) { viewRejectsWrites(t, factory(t)) })
	t.Run("job queries", func(t *testing.T) { jobQueries(t, factory(t)) })
	t.Run("incidents and history", func(t *testing.T) { incidentsAndHistory(t, factory(t)) })
	t.Run("history removal", func(t *testing.T) { historyRemoval(t, factory(t)) })
}

func record(id string) *persistence.InstanceRecord {
	tree := execution.New("proc:1")
	tree.ProcessInstanceID = id
	tree.SetVariable(tree.Root().ID, "customer", "acme")
	return &persistence.InstanceRecord{
		ID:            id,
		DefinitionID:  "proc:1",
		DefinitionKey: "proc",
		Tree:          tree.Snapshot(),
		StartedAt:     time.Now().UTC(),
	}
}

func instanceRoundTrip(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	rec := record("pi-1")
	require.NoError(t, store.Update(ctx, func(tx persistence.Tx) error {
		return tx.SaveInstance(rec, 0)
	}))
	assert.Equal(t, 1, rec.Version)

	var loaded *persistence.InstanceRecord
	require.NoError(t, store.View(ctx, func(tx persistence.Tx) error {
		var err error
		loaded, err = tx.Instance("pi-1")
		return err
	}))
	assert.Equal(t, 1, loaded.Version)
	assert.Equal(t, "proc", loaded.DefinitionKey)

	tree, err := execution.FromSnapshot(loaded.Tree)
	require.NoError(t, err)
	value, ok := tree.Variable(tree.Root().ID, "customer")
	require.True(t, ok)
	assert.Equal(t, "acme", value)

	err = store.View(ctx, func(tx persistence.Tx) error {
		_, err := tx.Instance("missing")
		return err
	})
	assert.True(t, process.IsNotFound(err))
}

func versionConflict(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, func(tx persistence.Tx) error {
		return tx.SaveInstance(record("pi-1"), 0)
	}))

	err := store.Update(ctx, func(tx persistence.Tx) error {
		return tx.SaveInstance(record("pi-1"), 0)
	})
	require.Error(t, err)
	assert.True(t, process.IsTransient(err))

	err = store.Update(ctx, func(tx persistence.Tx) error {
		return tx.SaveInstance(record("pi-2"), 3)
	})
	assert.True(t, process.IsInstanceState(err))

	rec := record("pi-1")
	require.NoError(t, store.Update(ctx, func(tx persistence.Tx) error {
		return tx.SaveInstance(rec, 1)
	}))
	assert.Equal(t, 2, rec.Version)
}

func rollback(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := store.Update(ctx, func(tx persistence.Tx) error {
		if err := tx.SaveInstance(record("pi-1"), 0); err != nil {
			return err
		}
		if err := tx.PutJob(&persistence.Job{ID: "job-1", Type: persistence.JobTypeSeed, Retries: 3}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, store.View(ctx, func(tx persistence.Tx) error {
		instances, err := tx.Instances(persistence.InstanceQuery{})
		if err != nil {
			return err
		}
		jobs, err := tx.Jobs(persistence.JobQuery{})
		if err != nil {
			return err
		}
		assert.Empty(t, instances)
		assert.Empty(t, jobs)
		return nil
	}))
}

func viewRejectsWrites(t *testing.T, store persistence.Store) {
	err := store.View(context.Background(), func(tx persistence.Tx) error {
		return tx.PutBatch(&persistence.Batch{ID: "b1"})
	})
	assert.Error(t, err)
}

func jobQueries(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	jobs := []*persistence.Job{
		{ID: "a", Type: persistence.JobTypeModification, BatchID: "b1", Retries: 3, DueDate: now.Add(-time.Minute)},
		{ID: "b", Type: persistence.JobTypeModification, BatchID: "b1", Retries: 0, DueDate: now.Add(-time.Minute)},
		{ID: "c", Type: persistence.JobTypeSeed, BatchID: "b1", Retries: 3, DueDate: now.Add(time.Hour)},
		{ID: "d", Type: persistence.JobTypeMonitor, BatchID: "b2", Retries: 3, DueDate: now.Add(-time.Hour),
			LockOwner: "worker", LockExpiration: now.Add(time.Minute)},
		{ID: "e", Type: persistence.JobTypeMonitor, BatchID: "b2", Retries: 3, DueDate: now.Add(-time.Hour), Priority: 5},
	}
	require.NoError(t, store.Update(ctx, func(tx persistence.Tx) error {
		for _, job := range jobs {
			if err := tx.PutJob(job); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, store.View(ctx, func(tx persistence.Tx) error {
		acquirable, err := tx.Jobs(persistence.JobQuery{Acquirable: true, Now: now})
		require.NoError(t, err)
		assert.Equal(t, []string{"e", "a"}, jobIDs(acquirable))

		failed, err := tx.Jobs(persistence.JobQuery{WithoutRetries: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, jobIDs(failed))

		byBatch, err := tx.Jobs(persistence.JobQuery{BatchID: "b1", Type: persistence.JobTypeModification})
		require.NoError(t, err)
		assert.Len(t, byBatch, 2)
		return nil
	}))
}

func incidentsAndHistory(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.Update(ctx, func(tx persistence.Tx) error {
		if err := tx.PutIncident(&persistence.Incident{ID: "i1", JobID: "a", BatchID: "b1", CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.PutIncident(&persistence.Incident{ID: "i2", JobID: "x", BatchID: "b2", CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.PutHistoricInstance(&persistence.HistoricInstance{
			ID: "pi-1", DefinitionID: "proc:1", State: persistence.StateCompleted, StartTime: now, EndTime: &now,
		}); err != nil {
			return err
		}
		if err := tx.PutHistoricVariable(&persistence.HistoricVariable{
			ProcessInstanceID: "pi-1", ScopeInstanceID: "pi-1", Name: "customer", Value: "acme", Initial: true,
		}); err != nil {
			return err
		}
		return tx.PutHistoricVariable(&persistence.HistoricVariable{
			ProcessInstanceID: "pi-1", ScopeInstanceID: "pi-1", Name: "quantity", Value: 3, InitialValue: int64(1),
		})
	}))

	require.NoError(t, store.View(ctx, func(tx persistence.Tx) error {
		incidents, err := tx.Incidents(persistence.IncidentQuery{BatchID: "b1"})
		require.NoError(t, err)
		require.Len(t, incidents, 1)
		assert.Equal(t, "i1", incidents[0].ID)

		finished, err := tx.HistoricInstances(persistence.HistoricInstanceQuery{Finished: true})
		require.NoError(t, err)
		assert.Len(t, finished, 1)

		vars, err := tx.HistoricVariables("pi-1")
		require.NoError(t, err)
		require.Len(t, vars, 2)
		byName := map[string]*persistence.HistoricVariable{}
		for _, v := range vars {
			byName[v.Name] = v
		}
		require.Contains(t, byName, "customer")
		assert.Equal(t, "pi-1/customer", byName["customer"].ID)
		assert.Equal(t, "acme", byName["customer"].Value)
		assert.Nil(t, byName["customer"].InitialValue)
		require.Contains(t, byName, "quantity")
		assert.Equal(t, 3, byName["quantity"].Value)
		assert.Equal(t, int64(1), byName["quantity"].InitialValue)
		return nil
	}))
}

func historyRemoval(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.Update(ctx, func(tx persistence.Tx) error {
		for _, id := range []string{"b1", "b2"} {
			if err := tx.PutHistoricBatch(&persistence.HistoricBatch{ID: id, StartTime: now}); err != nil {
				return err
			}
		}
		if err := tx.PutHistoricInstance(&persistence.HistoricInstance{ID: "pi-1", StartTime: now}); err != nil {
			return err
		}
		return tx.PutHistoricVariable(&persistence.HistoricVariable{ProcessInstanceID: "pi-1", ScopeInstanceID: "pi-1", Name: "v"})
	}))

	require.NoError(t, store.Update(ctx, func(tx persistence.Tx) error {
		if err := tx.DeleteHistoricVariable("pi-1/v"); err != nil {
			return err
		}
		if err := tx.DeleteHistoricInstance("pi-1"); err != nil {
			return err
		}
		return tx.DeleteHistoricBatch("b1")
	}))

	require.NoError(t, store.View(ctx, func(tx persistence.Tx) error {
		_, err := tx.HistoricInstance("pi-1")
		assert.True(t, process.IsNotFound(err))
		vars, err := tx.HistoricVariables("pi-1")
		require.NoError(t, err)
		assert.Empty(t, vars)
		batches, err := tx.HistoricBatches()
		require.NoError(t, err)
		require.Len(t, batches, 1)
		assert.Equal(t, "b2", batches[0].ID)
		return nil
	}))
}

func jobIDs(jobs []*persistence.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.ID)
	}
	return out
}
