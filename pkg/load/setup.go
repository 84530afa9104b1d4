package load

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	stderrors "errors"

	"github.com/idfm-analytics/transport-ingest/pkg/errors"
)

// rawTableSchemas declares the RAW tables with their baseline schemas.
// Load jobs run with autodetect, so new source fields extend these
// tables without a migration.
var rawTableSchemas = map[string]bigquery.Schema{
	"raw_validations": {
		{Name: "date", Type: bigquery.DateFieldType},
		{Name: "stop_id", Type: bigquery.StringFieldType},
		{Name: "stop_name", Type: bigquery.StringFieldType},
		{Name: "line_id", Type: bigquery.StringFieldType},
		{Name: "line_name", Type: bigquery.StringFieldType},
		{Name: "ticket_type", Type: bigquery.StringFieldType},
		{Name: "validation_count", Type: bigquery.IntegerFieldType},
		{Name: "ingestion_ts", Type: bigquery.TimestampFieldType},
		{Name: "source", Type: bigquery.StringFieldType},
	},
	"raw_punctuality": {
		{Name: "month", Type: bigquery.DateFieldType},
		{Name: "line_id", Type: bigquery.StringFieldType},
		{Name: "line_name", Type: bigquery.StringFieldType},
		{Name: "punctuality_rate", Type: bigquery.FloatFieldType},
		{Name: "trains_planned", Type: bigquery.IntegerFieldType},
		{Name: "trains_departed", Type: bigquery.IntegerFieldType},
		{Name: "ingestion_ts", Type: bigquery.TimestampFieldType},
		{Name: "source", Type: bigquery.StringFieldType},
	},
	"raw_ref_stops": {
		{Name: "stop_id", Type: bigquery.StringFieldType},
		{Name: "stop_name", Type: bigquery.StringFieldType},
		{Name: "latitude", Type: bigquery.FloatFieldType},
		{Name: "longitude", Type: bigquery.FloatFieldType},
		{Name: "town", Type: bigquery.StringFieldType},
		{Name: "ingestion_ts", Type: bigquery.TimestampFieldType},
		{Name: "source", Type: bigquery.StringFieldType},
	},
	"raw_ref_lines": {
		{Name: "line_id", Type: bigquery.StringFieldType},
		{Name: "line_name", Type: bigquery.StringFieldType},
		{Name: "transport_mode", Type: bigquery.StringFieldType},
		{Name: "operator", Type: bigquery.StringFieldType},
		{Name: "ingestion_ts", Type: bigquery.TimestampFieldType},
		{Name: "source", Type: bigquery.StringFieldType},
	},
	"raw_ref_stop_lines": {
		{Name: "stop_id", Type: bigquery.StringFieldType},
		{Name: "line_id", Type: bigquery.StringFieldType},
		{Name: "ingestion_ts", Type: bigquery.TimestampFieldType},
		{Name: "source", Type: bigquery.StringFieldType},
	},
}

// Setup creates the project datasets and the RAW tables if they do not
// exist yet. Existing resources are left untouched.
func (l *Loader) Setup(ctx context.Context, datasets []string) error {
	for _, id := range datasets {
		if err := l.ensureDataset(ctx, id); err != nil {
			return err
		}
	}
	if err := l.ensureTables(ctx); err != nil {
		return err
	}
	l.logger.Info("warehouse setup complete")
	return nil
}

func (l *Loader) ensureDataset(ctx context.Context, id string) error {
	ds := l.client.Dataset(id)

	_, err := ds.Metadata(ctx)
	if err == nil {
		l.logger.Info("dataset already exists", zap.String("dataset", id))
		return nil
	}
	if !isNotFound(err) {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to check dataset")
	}

	meta := &bigquery.DatasetMetadata{
		Location:    l.location,
		Description: fmt.Sprintf("Transport scorecard - %s", id),
	}
	if err := ds.Create(ctx, meta); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create dataset")
	}

	l.logger.Info("created dataset", zap.String("dataset", id))
	return nil
}

func (l *Loader) ensureTables(ctx context.Context) error {
	for name, schema := range rawTableSchemas {
		tbl := l.dataset.Table(name)

		_, err := tbl.Metadata(ctx)
		if err == nil {
			l.logger.Info("table already exists", zap.String("table", name))
			continue
		}
		if !isNotFound(err) {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to check table")
		}

		if err := tbl.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create table")
		}
		l.logger.Info("created table", zap.String("table", name))
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return stderrors.As(err, &apiErr) && apiErr.Code == 404
}
