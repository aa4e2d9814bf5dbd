package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	apperrors "stitch/internal/errors"
	"stitch/internal/tabio"
)

// EnvPrefix namespaces every environment variable, e.g. STITCH_LINK_N_LAGS.
// Leaf fields carry split_words rather than an envconfig name: envconfig
// falls back to a bare tag name such as PATH or LEVEL when the prefixed
// variable is unset.
const EnvPrefix = "STITCH"

// Config represents the complete application configuration
type Config struct {
	Link      LinkConfig      `yaml:"link" envconfig:"LINK"`
	History   HistoryConfig   `yaml:"history" envconfig:"HISTORY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
}

// LinkConfig describes one linkage run.
type LinkConfig struct {
	SurveyPath string `yaml:"survey_path" split_words:"true" validate:"required"`
	ContextDir string `yaml:"context_dir" split_words:"true" validate:"required"`
	SaveDir    string `yaml:"save_dir" split_words:"true" validate:"required"`
	OutputName string `yaml:"output_name" split_words:"true" default:"linked_data.parquet" validate:"required"`

	IDColumn    string `yaml:"id_column" split_words:"true" validate:"required"`
	DateColumn  string `yaml:"date_column" split_words:"true" validate:"required"`
	GeoIDColumn string `yaml:"geoid_column" split_words:"true" default:"LINKCEN2010" validate:"required"`

	ContextDateColumn  string   `yaml:"context_date_column" split_words:"true" default:"Date"`
	ContextGeoIDColumn string   `yaml:"context_geoid_column" split_words:"true" default:"GEOID10"`
	MeasureType        string   `yaml:"measure_type" split_words:"true"`
	DataColumns        []string `yaml:"data_columns" split_words:"true"`
	FileExtension      string   `yaml:"file_extension" split_words:"true"`
	Shape              string   `yaml:"shape" split_words:"true" default:"long" validate:"oneof=long wide"`
	ReadType           string   `yaml:"read_type" split_words:"true" default:"float32" validate:"oneof=float32 float64"`
	RenameFile         string   `yaml:"rename_file" split_words:"true"`

	NLags          int    `yaml:"n_lags" split_words:"true" default:"365" validate:"gte=1"`
	Parallel       bool   `yaml:"parallel" split_words:"true"`
	MaxWorkers     int    `yaml:"max_workers" split_words:"true" validate:"gte=0"`
	AutoMemory     bool   `yaml:"auto_memory" split_words:"true" default:"true"`
	IncludeLagDate bool   `yaml:"include_lag_date" split_words:"true"`
	TempFormat     string `yaml:"temp_format" split_words:"true" default:"parquet" validate:"oneof=parquet feather csv"`
	KeepTemp       bool   `yaml:"keep_temp" split_words:"true"`

	ChunkRows          int `yaml:"chunk_rows" split_words:"true" default:"1000000" validate:"gte=1"`
	PreloadConcurrency int `yaml:"preload_concurrency" split_words:"true" default:"1" validate:"gte=1"`

	// CSVEngines is the CSV parser order; the first that succeeds wins.
	CSVEngines []string `yaml:"csv_engines" split_words:"true" default:"arrow,standard"`
}

// HistoryConfig points at an optional residential history file.
type HistoryConfig struct {
	Path             string  `yaml:"path" split_words:"true"`
	IDColumn         string  `yaml:"id_column" split_words:"true" default:"hhidpn"`
	MoveColumn       string  `yaml:"move_column" split_words:"true" default:"trmove_tr"`
	MoveYearColumn   string  `yaml:"move_year_column" split_words:"true" default:"mvyear"`
	MoveMonthColumn  string  `yaml:"move_month_column" split_words:"true" default:"mvmonth"`
	MovedMark        string  `yaml:"moved_mark" split_words:"true" default:"1. move"`
	GeoIDColumn      string  `yaml:"geoid_column" split_words:"true" default:"LINKCEN2010"`
	SurveyYearColumn string  `yaml:"survey_year_column" split_words:"true" default:"year"`
	FirstTractMark   float64 `yaml:"first_tract_mark" split_words:"true" default:"999"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" split_words:"true" default:"info" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" split_words:"true" default:"json"`
	Output   string `yaml:"output" split_words:"true" default:"console" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" split_words:"true" default:"logs/stitch.log"`
}

// TelemetryConfig controls OpenTelemetry exporters.
type TelemetryConfig struct {
	Tracing        bool    `yaml:"tracing" split_words:"true"`
	Metrics        bool    `yaml:"metrics" split_words:"true" default:"true"`
	TraceExporter  string  `yaml:"trace_exporter" split_words:"true" default:"stdout" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" split_words:"true" default:"prometheus" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" split_words:"true" default:"1" validate:"gte=0,lte=1"`
	Environment    string  `yaml:"environment" split_words:"true" default:"development"`
}

// ServerConfig configures the optional status server. An empty Addr
// disables it.
type ServerConfig struct {
	Addr            string        `yaml:"addr" split_words:"true"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true" default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true" default:"10s"`
	RPS             float64       `yaml:"rps" split_words:"true" default:"20"`
	Burst           int           `yaml:"burst" split_words:"true" default:"40"`
}

// Load builds the configuration from environment variables, then overlays
// the YAML file at path when path is non-empty. The result is not
// validated; callers apply flag overrides first and then call Validate.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, apperrors.NewConfigError("load config from env", err)
	}
	if path == "" {
		return &cfg, nil
	}
	if err := overlayFile(&cfg, path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overlayFile decodes path over cfg. Keys absent from the file keep their
// environment or default value.
func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.NewNotFoundError("config file " + path)
		}
		return apperrors.NewConfigError("read config file", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return apperrors.NewConfigError("parse config file "+path, err)
	}
	return nil
}

// Validate checks struct tags and the rules that span fields.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var msgs []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				msgs = append(msgs, formatFieldError(fe))
			}
		} else {
			msgs = append(msgs, err.Error())
		}
		return apperrors.NewConfigError("invalid configuration: "+strings.Join(msgs, "; "), nil)
	}

	l := c.Link
	if l.MeasureType == "" && len(l.DataColumns) == 0 {
		return apperrors.NewConfigError("either a measure type or data columns must be given", nil)
	}
	if l.Shape == "wide" && len(l.DataColumns) > 1 {
		return apperrors.NewConfigError("wide contextual files take exactly one data column", nil)
	}
	if l.FileExtension != "" && !strings.HasPrefix(l.FileExtension, ".") {
		return apperrors.NewConfigError(fmt.Sprintf("file extension %q must start with a dot", l.FileExtension), nil)
	}
	if _, err := l.Engines(); err != nil {
		return err
	}
	format, err := tabio.DetectFormat(l.OutputName)
	if err != nil {
		return apperrors.NewConfigError("output name "+l.OutputName, err)
	}
	if !format.Writable() {
		return apperrors.NewConfigError(fmt.Sprintf("output format %s is read-only; choose .csv, .parquet, .feather or .xlsx", format), nil)
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Namespace() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Namespace(), fe.Param(), fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
	}
}

// Engines resolves CSVEngines. An empty list means tabio.DefaultEngines.
func (l LinkConfig) Engines() ([]tabio.Engine, error) {
	engines := make([]tabio.Engine, 0, len(l.CSVEngines))
	for _, name := range l.CSVEngines {
		e, err := tabio.ParseEngine(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		engines = append(engines, e)
	}
	return engines, nil
}

// Lags returns the lags of a run: 0 through NLags-1.
func (l LinkConfig) Lags() []int {
	lags := make([]int, l.NLags)
	for i := range lags {
		lags[i] = i
	}
	return lags
}

// Default returns the configuration with every default applied and no run
// paths set.
func Default() *Config {
	return &Config{
		Link: LinkConfig{
			OutputName:         "linked_data.parquet",
			GeoIDColumn:        "LINKCEN2010",
			ContextDateColumn:  "Date",
			ContextGeoIDColumn: "GEOID10",
			Shape:              "long",
			ReadType:           "float32",
			NLags:              365,
			AutoMemory:         true,
			TempFormat:         "parquet",
			ChunkRows:          1_000_000,
			PreloadConcurrency: 1,
			CSVEngines:         []string{"arrow", "standard"},
		},
		History: HistoryConfig{
			IDColumn:         "hhidpn",
			MoveColumn:       "trmove_tr",
			MoveYearColumn:   "mvyear",
			MoveMonthColumn:  "mvmonth",
			MovedMark:        "1. move",
			GeoIDColumn:      "LINKCEN2010",
			SurveyYearColumn: "year",
			FirstTractMark:   999,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/stitch.log",
		},
		Telemetry: TelemetryConfig{
			Metrics:        true,
			TraceExporter:  "stdout",
			MetricExporter: "prometheus",
			SampleRatio:    1,
			Environment:    "development",
		},
		Server: ServerConfig{
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RPS:             20,
			Burst:           40,
		},
	}
}
