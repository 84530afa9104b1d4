// Package extract drives paginated extraction runs: it pulls all records
// for a dataset through the ODS client, maps raw fields into the internal
// schema, stamps provenance metadata, and writes bronze-layer artifacts.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/idfm-analytics/transport-ingest/pkg/clients"
	"github.com/idfm-analytics/transport-ingest/pkg/config"
	"github.com/idfm-analytics/transport-ingest/pkg/errors"
	"github.com/idfm-analytics/transport-ingest/pkg/jsonx"
	"github.com/idfm-analytics/transport-ingest/pkg/models"
)

// API is the slice of the ODS client the extractor depends on.
type API interface {
	GetAllRecords(ctx context.Context, query clients.AllRecordsQuery) ([]map[string]interface{}, error)
}

// Extractor runs extractions for one configured dataset.
type Extractor struct {
	api     API
	dataset config.DatasetConfig
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an extractor for one dataset.
func New(api API, dataset config.DatasetConfig, logger *zap.Logger) *Extractor {
	return &Extractor{
		api:     api,
		dataset: dataset,
		logger:  logger.With(zap.String("component", "extractor"), zap.String("dataset_id", dataset.ID)),
		now:     time.Now,
	}
}

// Batch is the output of one extraction run: normalized records plus the
// artifact filename they belong in. A batch is created once at the end of
// a run and never mutated afterwards.
type Batch struct {
	Dataset  string
	Filename string
	Records  []models.Record
}

// Empty reports whether the run matched zero records. An empty batch is a
// normal "nothing to do" outcome; callers must skip the artifact write so
// no zero-row artifacts are created.
func (b *Batch) Empty() bool {
	return len(b.Records) == 0
}

// RunOptions bounds one extraction run.
type RunOptions struct {
	// Start and End bound incremental runs (YYYY-MM-DD or YYYY-MM);
	// ignored for snapshot datasets
	Start string
	End   string
	// MaxRecords caps the run, 0 means unlimited
	MaxRecords int
	// OutputDir is the bronze directory for this dataset
	OutputDir string
}

// Run extracts the dataset and writes the artifact, skipping the write
// when nothing matched. It returns the artifact path ("" when empty) and
// the record count.
func (e *Extractor) Run(ctx context.Context, opts RunOptions) (string, int, error) {
	var (
		batch *Batch
		err   error
	)

	if e.dataset.Mode == config.ModeSnapshot {
		batch, err = e.ExtractSnapshot(ctx, opts.MaxRecords)
	} else {
		batch, err = e.ExtractRange(ctx, opts.Start, opts.End, opts.MaxRecords)
	}
	if err != nil {
		return "", 0, err
	}

	if batch.Empty() {
		e.logger.Warn("no records found, skipping artifact write")
		return "", 0, nil
	}

	path, err := e.WriteArtifact(batch, opts.OutputDir)
	if err != nil {
		return "", 0, err
	}

	e.logger.Info("saved artifact",
		zap.String("path", path),
		zap.Int("records", len(batch.Records)))

	return path, len(batch.Records), nil
}

// ExtractRange extracts all records whose date field falls inside
// [start, end]. For month-granularity datasets the bounds are truncated
// to YYYY-MM so day components never appear in the filter predicate.
func (e *Extractor) ExtractRange(ctx context.Context, start, end string, maxRecords int) (*Batch, error) {
	if e.dataset.Mode != config.ModeIncremental {
		return nil, errors.Newf(errors.ErrorTypeConfig, "dataset %q is not incremental", e.dataset.ID)
	}
	if start == "" || end == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "start and end dates are required")
	}

	if e.dataset.Granularity == config.GranularityMonth {
		start = truncateToMonth(start)
		end = truncateToMonth(end)
	}

	field := e.dataset.DateField
	where := fmt.Sprintf("%s >= '%s' AND %s <= '%s'", field, start, field, end)
	orderBy := field + " ASC"

	e.logger.Info("extracting date range",
		zap.String("start", start),
		zap.String("end", end))

	records, err := e.api.GetAllRecords(ctx, clients.AllRecordsQuery{
		Where:      where,
		Select:     e.dataset.Fields.SelectClause(),
		OrderBy:    orderBy,
		MaxRecords: maxRecords,
	})
	if err != nil {
		return nil, err
	}

	return &Batch{
		Dataset:  e.dataset.ID,
		Filename: fmt.Sprintf("%s_%s_%s.json", e.dataset.Prefix, start, end),
		Records:  e.normalize(records),
	}, nil
}

// ExtractSnapshot extracts the full dataset. Snapshot artifacts are named
// by extraction day so the loader can pick the most recent one.
func (e *Extractor) ExtractSnapshot(ctx context.Context, maxRecords int) (*Batch, error) {
	e.logger.Info("extracting full snapshot")

	records, err := e.api.GetAllRecords(ctx, clients.AllRecordsQuery{
		Select:     e.dataset.Fields.SelectClause(),
		MaxRecords: maxRecords,
	})
	if err != nil {
		return nil, err
	}

	return &Batch{
		Dataset:  e.dataset.ID,
		Filename: fmt.Sprintf("%s_%s.json", e.dataset.Prefix, e.now().UTC().Format("20060102")),
		Records:  e.normalize(records),
	}, nil
}

// WriteArtifact persists the batch as a single JSON array file under dir.
func (e *Extractor) WriteArtifact(batch *Batch, dir string) (string, error) {
	if batch.Empty() {
		return "", errors.New(errors.ErrorTypeData, "refusing to write an empty artifact")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to create output directory")
	}

	data, err := jsonx.MarshalIndent(batch.Records, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to marshal batch")
	}

	path := filepath.Join(dir, batch.Filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to write artifact")
	}

	return path, nil
}

// normalize maps raw API records through the field map and stamps the
// ingestion timestamp and provenance tag onto every record.
func (e *Extractor) normalize(raw []map[string]interface{}) []models.Record {
	if len(raw) == 0 {
		return nil
	}

	ingestionTS := e.now().UTC().Format(time.RFC3339)

	out := make([]models.Record, 0, len(raw))
	for _, r := range raw {
		rec := e.dataset.Fields.Apply(r, e.dataset.Shape)
		rec[models.IngestionTSField] = ingestionTS
		rec[models.SourceField] = e.dataset.Provenance
		out = append(out, rec)
	}
	return out
}

// truncateToMonth reduces a YYYY-MM-DD date to YYYY-MM. Already-truncated
// values pass through unchanged.
func truncateToMonth(date string) string {
	if len(date) > 7 {
		return date[:7]
	}
	return date
}
