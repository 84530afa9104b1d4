// Package load moves bronze-layer JSON artifacts into BigQuery RAW tables
// using load jobs, converting artifacts to NDJSON in memory.
package load

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/idfm-analytics/transport-ingest/pkg/config"
	"github.com/idfm-analytics/transport-ingest/pkg/errors"
	"github.com/idfm-analytics/transport-ingest/pkg/jsonx"
)

// Config holds the warehouse connection settings.
type Config struct {
	ProjectID       string
	Dataset         string
	Location        string
	CredentialsFile string
}

// Loader loads bronze artifacts into BigQuery RAW tables.
type Loader struct {
	client    *bigquery.Client
	dataset   *bigquery.Dataset
	logger    *zap.Logger
	projectID string
	datasetID string
	location  string
}

// LoadResult reports the outcome of one artifact load.
type LoadResult struct {
	Artifact   string
	Table      string
	RowsLoaded int64
	TotalRows  uint64
}

// NewLoader creates a BigQuery client for the configured project.
func NewLoader(ctx context.Context, cfg Config, logger *zap.Logger) (*Loader, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "project ID is required")
	}
	if cfg.Dataset == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "dataset is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create BigQuery client")
	}

	return &Loader{
		client:    client,
		dataset:   client.Dataset(cfg.Dataset),
		logger:    logger.With(zap.String("component", "loader")),
		projectID: cfg.ProjectID,
		datasetID: cfg.Dataset,
		location:  cfg.Location,
	}, nil
}

// Close releases the BigQuery client.
func (l *Loader) Close() error {
	return l.client.Close()
}

// LoadArtifact loads a single JSON array artifact into the named table.
// The artifact is converted to NDJSON in memory before the load job runs.
func (l *Loader) LoadArtifact(ctx context.Context, path, table string, disposition bigquery.TableWriteDisposition) (*LoadResult, error) {
	l.logger.Info("loading artifact",
		zap.String("artifact", filepath.Base(path)),
		zap.String("table", fmt.Sprintf("%s.%s.%s", l.projectID, l.datasetID, table)),
		zap.String("disposition", string(disposition)))

	ndjson, err := ndjsonFromArtifact(path)
	if err != nil {
		return nil, err
	}

	source := bigquery.NewReaderSource(bytes.NewReader(ndjson))
	source.SourceFormat = bigquery.JSON
	source.AutoDetect = true

	tbl := l.dataset.Table(table)
	loader := tbl.LoaderFrom(source)
	loader.WriteDisposition = disposition

	job, err := loader.Run(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to start load job")
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed waiting for load job")
	}
	if err := status.Err(); err != nil {
		return nil, classifyJobError(err, disposition)
	}

	result := &LoadResult{Artifact: path, Table: table}
	if stats, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
		result.RowsLoaded = stats.OutputRows
	}

	if meta, err := tbl.Metadata(ctx); err == nil {
		result.TotalRows = meta.NumRows
	} else {
		l.logger.Warn("failed to read table metadata", zap.Error(err))
	}

	l.logger.Info("artifact loaded",
		zap.String("table", table),
		zap.Int64("rows_loaded", result.RowsLoaded),
		zap.Uint64("total_rows", result.TotalRows))

	return result, nil
}

// LoadDataset loads every pending artifact for one dataset. Incremental
// datasets stack all artifacts, snapshot datasets replace the table with
// the most recent artifact only.
func (l *Loader) LoadDataset(ctx context.Context, ds config.DatasetConfig, name, dir string, reset bool) ([]*LoadResult, error) {
	if ds.Mode == config.ModeSnapshot {
		return l.loadSnapshot(ctx, ds, name, dir)
	}
	return l.loadIncremental(ctx, ds, name, dir, reset)
}

// loadIncremental loads all matching artifacts in lexicographic order.
// With reset the first artifact truncates the table so a schema change
// takes effect, then the remaining artifacts append.
func (l *Loader) loadIncremental(ctx context.Context, ds config.DatasetConfig, name, dir string, reset bool) ([]*LoadResult, error) {
	files, err := listArtifacts(dir, ds.Prefix)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		l.logger.Warn("no artifacts found",
			zap.String("dataset", name),
			zap.String("dir", dir))
		return nil, nil
	}

	l.logger.Info("loading incremental dataset",
		zap.String("dataset", name),
		zap.Int("artifacts", len(files)),
		zap.Bool("reset", reset))

	dispositions := planDispositions(len(files), reset)

	results := make([]*LoadResult, 0, len(files))
	for i, file := range files {
		if reset && i == 0 {
			l.logger.Info("reset mode, first artifact truncates the table")
		}
		res, err := l.LoadArtifact(ctx, file, ds.Table, dispositions[i])
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// loadSnapshot loads the most recent artifact only, always truncating.
// Snapshot artifacts are complete copies, so older ones are superseded.
func (l *Loader) loadSnapshot(ctx context.Context, ds config.DatasetConfig, name, dir string) ([]*LoadResult, error) {
	files, err := listArtifacts(dir, ds.Prefix)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		l.logger.Warn("no artifacts found",
			zap.String("dataset", name),
			zap.String("dir", dir))
		return nil, nil
	}

	latest := latestArtifact(files)
	l.logger.Info("loading snapshot dataset",
		zap.String("dataset", name),
		zap.String("artifact", filepath.Base(latest)))

	res, err := l.LoadArtifact(ctx, latest, ds.Table, bigquery.WriteTruncate)
	if err != nil {
		return nil, err
	}
	return []*LoadResult{res}, nil
}

// listArtifacts globs the dataset's artifacts under dir in sorted order.
// A missing directory is treated as "nothing to load".
func listArtifacts(dir, prefix string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, prefix+"_*.json"))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list artifacts")
	}
	sort.Strings(files)
	return files, nil
}

// planDispositions returns the write disposition for each of n artifacts.
// Without reset every load appends. With reset the first load truncates
// and the rest append on top of it.
func planDispositions(n int, reset bool) []bigquery.TableWriteDisposition {
	plan := make([]bigquery.TableWriteDisposition, n)
	for i := range plan {
		if reset && i == 0 {
			plan[i] = bigquery.WriteTruncate
		} else {
			plan[i] = bigquery.WriteAppend
		}
	}
	return plan
}

// latestArtifact returns the lexicographically greatest path. Artifact
// names embed sortable dates, so this is the most recent one.
func latestArtifact(files []string) string {
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)
	return sorted[len(sorted)-1]
}

// ndjsonFromArtifact reads a JSON array artifact and re-encodes it as
// newline-delimited JSON, which is the only JSON layout the load API
// accepts. The conversion happens in memory, no temp file is written.
func ndjsonFromArtifact(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read artifact")
	}

	var records []map[string]interface{}
	if err := jsonx.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformed, "artifact is not a JSON array")
	}

	var buf bytes.Buffer
	for _, record := range records {
		line, err := jsonx.Marshal(record)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode record")
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// classifyJobError maps a failed load job onto the error taxonomy. A
// failed append is usually a schema mismatch with the existing table,
// which retrying cannot fix.
func classifyJobError(err error, disposition bigquery.TableWriteDisposition) error {
	msg := strings.ToLower(err.Error())
	if disposition == bigquery.WriteAppend && (strings.Contains(msg, "schema") || strings.Contains(msg, "field")) {
		return errors.Wrap(err, errors.ErrorTypeSchema, "artifact schema is incompatible with the existing table")
	}
	return errors.Wrap(err, errors.ErrorTypeData, "load job failed")
}
