package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/idfm-analytics/transport-ingest/pkg/clients"
	"github.com/idfm-analytics/transport-ingest/pkg/config"
	"github.com/idfm-analytics/transport-ingest/pkg/extract"
	"github.com/idfm-analytics/transport-ingest/pkg/load"
	"github.com/idfm-analytics/transport-ingest/pkg/logger"
)

var version = "0.2.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	env := newEnv()

	var (
		configFile string
		logLevel   string
	)

	root := &cobra.Command{
		Use:   "transport-ingest",
		Short: "Transport open-data ingestion for the IDFM analytics warehouse",
		Long: `transport-ingest extracts Ile-de-France transport open data (ridership
validations, line punctuality, network referentials) from Opendatasoft
portals and loads the resulting bronze artifacts into BigQuery RAW tables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "config/apis.yml", "Path to the dataset catalog")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("transport-ingest v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newExtractCmd(env, &configFile, &logLevel))
	root.AddCommand(newLoadCmd(env, &configFile, &logLevel))
	root.AddCommand(newSetupCmd(env, &configFile, &logLevel))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newEnv binds the warehouse environment variables with their defaults.
func newEnv() *viper.Viper {
	v := viper.New()
	v.SetDefault("bq_dataset_raw", "transport_raw")
	v.SetDefault("gcp_region", "europe-west1")
	v.SetDefault("data_dir", "data/bronze")

	_ = v.BindEnv("gcp_project_id", "GCP_PROJECT_ID")
	_ = v.BindEnv("gcp_region", "GCP_REGION")
	_ = v.BindEnv("bq_dataset_raw", "BQ_DATASET_RAW")
	_ = v.BindEnv("bq_dataset_staging", "BQ_DATASET_STAGING")
	_ = v.BindEnv("bq_dataset_core", "BQ_DATASET_CORE")
	_ = v.BindEnv("bq_dataset_analytics", "BQ_DATASET_ANALYTICS")
	_ = v.BindEnv("bq_credentials_file", "BQ_CREDENTIALS_FILE")
	_ = v.BindEnv("data_dir", "DATA_DIR")

	v.SetDefault("bq_dataset_staging", "transport_staging")
	v.SetDefault("bq_dataset_core", "transport_core")
	v.SetDefault("bq_dataset_analytics", "transport_analytics")

	return v
}

// setup loads the catalog and initializes logging.
func setup(configFile, logLevel string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	if err := logger.Init(logger.Config{
		Level:    level,
		Encoding: cfg.Logging.Encoding,
	}); err != nil {
		return nil, nil, err
	}

	return cfg, logger.Get(), nil
}

func newExtractCmd(env *viper.Viper, configFile, logLevel *string) *cobra.Command {
	var (
		start      string
		end        string
		maxRecords int
		outputDir  string
	)

	cmd := &cobra.Command{
		Use:   "extract <dataset>",
		Short: "Extract a dataset from its source API into a bronze artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configFile, *logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			name := args[0]
			ds, src, err := cfg.Dataset(name)
			if err != nil {
				return err
			}

			dir := outputDir
			if dir == "" {
				dir = bronzeDir(env.GetString("data_dir"), name, ds)
			}

			client := clients.NewODSClient(clients.ODSConfig{
				BaseURL:        src.BaseURL,
				DatasetID:      ds.ID,
				APIKey:         src.APIKey,
				Timeout:        src.Timeout.AsDuration(),
				MaxRetries:     src.MaxRetries,
				RateLimitDelay: src.RateLimitDelay.AsDuration(),
			}, log)
			defer client.Close()

			ctx := context.WithValue(cmd.Context(), logger.DatasetKey, name)
			runLog := logger.WithContext(ctx)

			started := time.Now()
			path, count, err := extract.New(client, ds, runLog).Run(ctx, extract.RunOptions{
				Start:      start,
				End:        end,
				MaxRecords: maxRecords,
				OutputDir:  dir,
			})
			if err != nil {
				return err
			}

			if path == "" {
				runLog.Warn("extraction produced no records")
				return nil
			}
			runLog.Info("extraction complete",
				zap.String("artifact", path),
				zap.Int("records", count),
				zap.Duration("elapsed", time.Since(started)))
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Range start (YYYY-MM-DD, or YYYY-MM for monthly datasets)")
	cmd.Flags().StringVar(&end, "end", "", "Range end (inclusive)")
	cmd.Flags().IntVar(&maxRecords, "max-records", 0, "Cap the number of extracted records (0 = unlimited)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Override the bronze output directory")

	return cmd
}

func newLoadCmd(env *viper.Viper, configFile, logLevel *string) *cobra.Command {
	var (
		reset   bool
		dataDir string
	)

	cmd := &cobra.Command{
		Use:   "load [datasets...]",
		Short: "Load bronze artifacts into BigQuery RAW tables",
		Long: `Load bronze artifacts into BigQuery RAW tables.

Without arguments all configured datasets are loaded. Incremental
datasets stack every artifact; with --reset the first artifact truncates
the table so a schema change takes effect. Snapshot datasets always
replace the table with the most recent artifact.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configFile, *logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			names := args
			if len(names) == 0 {
				names = cfg.DatasetNames()
			}

			ctx := cmd.Context()
			loader, err := load.NewLoader(ctx, loaderConfig(env), log)
			if err != nil {
				return err
			}
			defer func() { _ = loader.Close() }()

			base := dataDir
			if base == "" {
				base = env.GetString("data_dir")
			}

			for _, name := range names {
				ds, _, err := cfg.Dataset(name)
				if err != nil {
					return err
				}
				dir := bronzeDir(base, name, ds)
				if _, err := loader.LoadDataset(ctx, ds, name, dir, reset); err != nil {
					return err
				}
			}

			log.Info("load complete", zap.Strings("datasets", names))
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Truncate incremental tables before loading (use after a schema change)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Override the bronze base directory")

	return cmd
}

func newSetupCmd(env *viper.Viper, configFile, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the BigQuery datasets and RAW tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := setup(*configFile, *logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			loader, err := load.NewLoader(ctx, loaderConfig(env), log)
			if err != nil {
				return err
			}
			defer func() { _ = loader.Close() }()

			return loader.Setup(ctx, []string{
				env.GetString("bq_dataset_raw"),
				env.GetString("bq_dataset_staging"),
				env.GetString("bq_dataset_core"),
				env.GetString("bq_dataset_analytics"),
			})
		},
	}
}

func loaderConfig(env *viper.Viper) load.Config {
	return load.Config{
		ProjectID:       env.GetString("gcp_project_id"),
		Dataset:         env.GetString("bq_dataset_raw"),
		Location:        env.GetString("gcp_region"),
		CredentialsFile: env.GetString("bq_credentials_file"),
	}
}

// bronzeDir maps a dataset to its bronze subdirectory. Snapshot datasets
// share the referentials directory, incremental datasets get their own.
func bronzeDir(base, name string, ds config.DatasetConfig) string {
	if ds.Mode == config.ModeSnapshot {
		return filepath.Join(base, "referentials")
	}
	return filepath.Join(base, name)
}
