package engine

import (
	"context"
	"time"

	"github.com/goliatone/go-process/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
)

// CleanupReport counts the history removed by CleanupHistory.
type CleanupReport struct {
	Instances int `json:"instances"`
	Variables int `json:"variables"`
	Incidents int `json:"incidents"`
	Batches   int `json:"batches"`
}

// CleanupHistory removes the history of instances and batches that ended
// before now minus retention. Running instances and batches are kept.
func (e *Engine) CleanupHistory(ctx context.Context, retention time.Duration) (_ CleanupReport, err error) {
	ctx, span := e.startSpan(ctx, "engine.CleanupHistory", attribute.String("process.retention", retention.String()))
	defer func() { endSpan(span, err) }()

	cutoff := e.now().UTC().Add(-retention)
	var report CleanupReport
	err = e.store.Update(ctx, func(tx persistence.Tx) error {
		report = CleanupReport{}
		instances, err := tx.HistoricInstances(persistence.HistoricInstanceQuery{Finished: true})
		if err != nil {
			return err
		}
		for _, h := range instances {
			if !h.EndTime.Before(cutoff) {
				continue
			}
			if err := removeInstanceHistory(tx, h.ID, &report); err != nil {
				return err
			}
		}

		batches, err := tx.HistoricBatches()
		if err != nil {
			return err
		}
		for _, b := range batches {
			if b.EndTime == nil || !b.EndTime.Before(cutoff) {
				continue
			}
			if err := removeBatchHistory(tx, b.ID, &report); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return CleanupReport{}, err
	}
	e.logger.WithContext(ctx).Info("history cleanup before %s: instances=%d variables=%d incidents=%d batches=%d",
		cutoff.Format(time.RFC3339), report.Instances, report.Variables, report.Incidents, report.Batches)
	return report, nil
}

func removeInstanceHistory(tx persistence.Tx, id string, report *CleanupReport) error {
	var errs error
	vars, err := tx.HistoricVariables(id)
	errs = multierr.Append(errs, err)
	for _, v := range vars {
		errs = multierr.Append(errs, tx.DeleteHistoricVariable(v.ID))
	}
	incidents, err := tx.HistoricIncidents(persistence.IncidentQuery{ProcessInstanceID: id})
	errs = multierr.Append(errs, err)
	for _, inc := range incidents {
		errs = multierr.Append(errs, tx.DeleteHistoricIncident(inc.ID))
	}
	errs = multierr.Append(errs, tx.DeleteHistoricInstance(id))
	if errs != nil {
		return errs
	}
	report.Instances++
	report.Variables += len(vars)
	report.Incidents += len(incidents)
	return nil
}

func removeBatchHistory(tx persistence.Tx, id string, report *CleanupReport) error {
	var errs error
	incidents, err := tx.HistoricIncidents(persistence.IncidentQuery{BatchID: id})
	errs = multierr.Append(errs, err)
	for _, inc := range incidents {
		errs = multierr.Append(errs, tx.DeleteHistoricIncident(inc.ID))
	}
	errs = multierr.Append(errs, tx.DeleteHistoricBatch(id))
	if errs != nil {
		return errs
	}
	report.Batches++
	report.Incidents += len(incidents)
	return nil
}
