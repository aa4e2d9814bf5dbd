// Package config provides configuration management for stitch runs.
// It loads settings from the environment and an optional YAML file, applies
// defaults, and validates the result before any data is read.
//
// # Configuration Sources
//
// Sources are applied in this order, later ones winning:
//
//	1. Default values (struct tags)
//	2. Environment variables
//	3. YAML configuration file
//	4. Command-line flags (applied by cmd/stitch)
//
// # Environment Variables
//
// All environment variables follow the pattern STITCH_<SECTION>_<FIELD>,
// where FIELD is the Go field name split at word boundaries (GeoIDColumn
// becomes GEO_ID_COLUMN). Unprefixed names are never read:
//
//	STITCH_LINK_N_LAGS=2191
//	STITCH_LINK_PARALLEL=true
//	STITCH_LINK_DATA_COLUMNS=HeatIndex
//	STITCH_HISTORY_PATH=/data/residential_history.dta
//	STITCH_LOGGING_LEVEL=debug
//
// # Paths
//
// GetPaths resolves the input and output locations of a run. Lag files go
// to <save_dir>/temp_lag_files and the merged table to
// <save_dir>/<output_name>.
//
// # Renames
//
// LoadRenames reads per-year column rename maps for archives whose column
// names changed over time.
package config
