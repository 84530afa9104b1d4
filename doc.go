// Package transportingest ingests Ile-de-France transport open data into a
// BigQuery warehouse.
//
// The pipeline has two stages. Extraction pulls records from Opendatasoft
// Explore v2.1 portals (IDFM and SNCF Transilien) with automatic
// pagination, retry and rate limiting, maps source fields onto a stable
// internal schema, and writes bronze-layer JSON artifacts. Loading
// converts those artifacts to NDJSON in memory and moves them into
// BigQuery RAW tables through load jobs.
//
// # Datasets
//
// Five datasets are ingested out of the box:
//
//   - validations_rail: daily rail network ridership validations (incremental)
//   - punctuality: monthly Transilien line punctuality (incremental)
//   - ref_lines, ref_stops, ref_stop_lines: network referentials (snapshots)
//
// Incremental datasets stack one artifact per extracted date range into
// their table; snapshot datasets replace their table with the most recent
// full extraction.
//
// # Quick Start
//
//	transport-ingest setup
//	transport-ingest extract validations_rail --start 2024-01-01 --end 2024-01-31
//	transport-ingest load validations_rail
//
// The dataset catalog lives in config/apis.yml; warehouse settings come
// from the environment (GCP_PROJECT_ID, BQ_DATASET_RAW, ...), optionally
// via a .env file.
package transportingest
