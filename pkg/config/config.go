// Package config provides the declarative dataset catalog for
// transport-ingest. A single YAML document (config/apis.yml) maps each
// dataset to its source API, its target table and its field map. The
// extraction and load layers only consume the already-resolved values; no
// other package parses configuration.
package config

import (
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/idfm-analytics/transport-ingest/pkg/errors"
	"github.com/idfm-analytics/transport-ingest/pkg/models"
)

// DatasetMode selects between incremental (date-ranged) extraction and
// full-snapshot extraction.
type DatasetMode string

const (
	// ModeIncremental extracts a date range and appends to the raw table
	ModeIncremental DatasetMode = "incremental"
	// ModeSnapshot extracts the full dataset and replaces the raw table
	ModeSnapshot DatasetMode = "snapshot"
)

// Granularity is the precision of the dataset's date field.
type Granularity string

const (
	// GranularityDay filters on full YYYY-MM-DD dates
	GranularityDay Granularity = "day"
	// GranularityMonth filters on YYYY-MM values; day components must
	// never reach the filter predicate
	GranularityMonth Granularity = "month"
)

// Config is the root configuration document.
type Config struct {
	Logging  LoggingConfig            `yaml:"logging"`
	Sources  map[string]SourceConfig  `yaml:"sources"`
	Datasets map[string]DatasetConfig `yaml:"datasets"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// SourceConfig holds the connection parameters of one Opendatasoft portal.
// MaxRetries of zero selects the default of 3; a negative value disables
// retries entirely.
type SourceConfig struct {
	BaseURL        string   `yaml:"base_url"`
	APIKey         string   `yaml:"api_key"`
	Timeout        Duration `yaml:"timeout"`
	MaxRetries     int      `yaml:"max_retries"`
	RateLimitDelay Duration `yaml:"rate_limit_delay"`
}

// DatasetConfig describes one dataset: where it comes from, how its fields
// map into the internal schema, and where it lands in the warehouse.
type DatasetConfig struct {
	Source      string             `yaml:"source"`
	ID          string             `yaml:"id"`
	Table       string             `yaml:"table"`
	Provenance  string             `yaml:"provenance"`
	Mode        DatasetMode        `yaml:"mode"`
	Prefix      string             `yaml:"prefix"`
	DateField   string             `yaml:"date_field"`
	Granularity Granularity        `yaml:"granularity"`
	Shape       models.RecordShape `yaml:"shape"`
	Fields      models.FieldMap    `yaml:"fields"`
}

// Duration wraps time.Duration with YAML decoding of values like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return errors.Newf(errors.ErrorTypeConfig, "invalid duration %q", node.Value)
	}
	*d = Duration(parsed)
	return nil
}

// AsDuration returns the wrapped time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// applyDefaults fills unset optional fields after decoding.
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}

	for name, src := range c.Sources {
		if src.Timeout == 0 {
			src.Timeout = Duration(30 * time.Second)
		}
		if src.MaxRetries == 0 {
			src.MaxRetries = 3
		}
		if src.RateLimitDelay == 0 {
			src.RateLimitDelay = Duration(500 * time.Millisecond)
		}
		c.Sources[name] = src
	}

	for name, ds := range c.Datasets {
		if ds.Prefix == "" {
			ds.Prefix = name
		}
		if ds.Shape == "" {
			ds.Shape = models.ShapeFlat
		}
		if ds.Granularity == "" {
			ds.Granularity = GranularityDay
		}
		c.Datasets[name] = ds
	}
}

// Validate checks structural correctness of the whole catalog. It runs at
// load time so a broken field map never reaches an extraction run.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New(errors.ErrorTypeConfig, "no sources configured")
	}
	if len(c.Datasets) == 0 {
		return errors.New(errors.ErrorTypeConfig, "no datasets configured")
	}

	for name, src := range c.Sources {
		if src.BaseURL == "" {
			return errors.Newf(errors.ErrorTypeConfig, "source %q has no base_url", name)
		}
	}

	for name, ds := range c.Datasets {
		if _, ok := c.Sources[ds.Source]; !ok {
			return errors.Newf(errors.ErrorTypeConfig, "dataset %q references unknown source %q", name, ds.Source)
		}
		if ds.ID == "" {
			return errors.Newf(errors.ErrorTypeConfig, "dataset %q has no id", name)
		}
		if ds.Table == "" {
			return errors.Newf(errors.ErrorTypeConfig, "dataset %q has no target table", name)
		}
		if ds.Provenance == "" {
			return errors.Newf(errors.ErrorTypeConfig, "dataset %q has no provenance tag", name)
		}
		switch ds.Mode {
		case ModeIncremental:
			if ds.DateField == "" {
				return errors.Newf(errors.ErrorTypeConfig, "incremental dataset %q has no date_field", name)
			}
		case ModeSnapshot:
		default:
			return errors.Newf(errors.ErrorTypeConfig, "dataset %q has invalid mode %q", name, ds.Mode)
		}
		if !ds.Shape.Valid() {
			return errors.Newf(errors.ErrorTypeConfig, "dataset %q has invalid shape %q", name, ds.Shape)
		}
		if ds.Granularity != GranularityDay && ds.Granularity != GranularityMonth {
			return errors.Newf(errors.ErrorTypeConfig, "dataset %q has invalid granularity %q", name, ds.Granularity)
		}
		if err := ds.Fields.Validate(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "dataset "+name)
		}
	}

	return nil
}

// Dataset resolves a dataset and its source by name.
func (c *Config) Dataset(name string) (DatasetConfig, SourceConfig, error) {
	ds, ok := c.Datasets[name]
	if !ok {
		return DatasetConfig{}, SourceConfig{}, errors.Newf(errors.ErrorTypeNotFound, "unknown dataset %q", name)
	}
	src := c.Sources[ds.Source]
	return ds, src, nil
}

// DatasetNames returns the configured dataset names in stable order.
func (c *Config) DatasetNames() []string {
	names := make([]string, 0, len(c.Datasets))
	for name := range c.Datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
