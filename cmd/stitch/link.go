package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"stitch/internal/app"
	"stitch/internal/config"
	"stitch/internal/infrastructure"
)

// linkFlags holds the link command flags. Only flags the user set override
// the loaded configuration.
type linkFlags struct {
	surveyPath   string
	contextDir   string
	saveDir      string
	outputName   string
	idCol        string
	dateCol      string
	measureType  string
	dataCols     []string
	geoidCol     string
	ctxGeoidCol  string
	ctxDateCol   string
	fileExt      string
	shape        string
	readType     string
	renameFile   string
	historyPath  string
	nLags        int
	parallel     bool
	maxWorkers   int
	autoMemory   bool
	includeDate  bool
	tempFormat   string
	keepTemp     bool
	chunkRows    int
	preload      int
	csvEngines   []string
	statusAddr   string
	histID       string
	histMove     string
	histYear     string
	histMonth    string
	histMoved    string
	histGeoID    string
	histSurveyYr string
	histFirst    float64
}

var link linkFlags

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link contextual data to the survey for every lag",
	Example: `  stitch link --hrs-data hrs.dta --context-dir heat/ --save-dir out/ \
    --id-col hhidpn --date-col iwdate --measure-type heat_index --n-lags 30 --parallel`,
	RunE: runLink,
}

func init() {
	f := linkCmd.Flags()
	d := config.Default()

	f.StringVar(&link.surveyPath, "hrs-data", "", "Survey file (CSV, Stata, Parquet, Feather or Excel)")
	f.StringVar(&link.contextDir, "context-dir", "", "Directory of yearly contextual files")
	f.StringVar(&link.saveDir, "save-dir", "", "Directory for the output and the temp lag files")
	f.StringVar(&link.outputName, "output-name", d.Link.OutputName, "Output file name; its extension picks the format")
	f.StringVar(&link.idCol, "id-col", "", "Subject identifier column in the survey")
	f.StringVar(&link.dateCol, "date-col", "", "Interview date column in the survey")
	f.StringVar(&link.measureType, "measure-type", "", "Measure key; contextual file names must contain it")
	f.StringSliceVar(&link.dataCols, "data-col", nil, "Explicit contextual data columns (comma separated)")
	f.StringVar(&link.geoidCol, "geoid-col", d.Link.GeoIDColumn, "GEOID column in the survey")
	f.StringVar(&link.ctxGeoidCol, "contextual-geoid-col", d.Link.ContextGeoIDColumn, "GEOID column in contextual files")
	f.StringVar(&link.ctxDateCol, "contextual-date-col", d.Link.ContextDateColumn, "Date column in contextual files")
	f.StringVar(&link.fileExt, "file-extension", "", "Only read contextual files with this extension, e.g. .csv")
	f.StringVar(&link.shape, "shape", d.Link.Shape, "Contextual layout: long or wide")
	f.StringVar(&link.readType, "read-type", d.Link.ReadType, "Contextual value type: float32 or float64")
	f.StringVar(&link.renameFile, "rename-file", "", "YAML file of per-year column renames")
	f.StringVar(&link.historyPath, "residential-hist", "", "Residential history file")

	f.IntVar(&link.nLags, "n-lags", d.Link.NLags, "Number of lags, 0 through n-1")
	f.BoolVar(&link.parallel, "parallel", false, "Join lags in parallel")
	f.IntVar(&link.maxWorkers, "max-workers", 0, "Worker count; 0 sizes by available memory")
	f.BoolVar(&link.autoMemory, "auto-memory", d.Link.AutoMemory, "Size workers by available memory")
	f.BoolVar(&link.includeDate, "include-lag-date", false, "Keep the lagged date and GEOID columns")
	f.StringVar(&link.tempFormat, "temp-format", d.Link.TempFormat, "Temp lag file format: parquet, feather or csv")
	f.BoolVar(&link.keepTemp, "keep-temp", false, "Keep the temp lag files after the merge")
	f.IntVar(&link.chunkRows, "chunk-rows", d.Link.ChunkRows, "Rows per read chunk")
	f.IntVar(&link.preload, "preload-concurrency", d.Link.PreloadConcurrency, "Years loaded at once")
	f.StringSliceVar(&link.csvEngines, "csv-engine", d.Link.CSVEngines, "CSV parsers to try in order: arrow, standard")
	f.StringVar(&link.statusAddr, "status-addr", "", "Serve /health, /progress and /metrics on this address")

	f.StringVar(&link.histID, "res-hist-hhidpn", d.History.IDColumn, "ID column in the residential history")
	f.StringVar(&link.histMove, "res-hist-movecol", d.History.MoveColumn, "Move indicator column")
	f.StringVar(&link.histYear, "res-hist-mvyear", d.History.MoveYearColumn, "Move year column")
	f.StringVar(&link.histMonth, "res-hist-mvmonth", d.History.MoveMonthColumn, "Move month column")
	f.StringVar(&link.histMoved, "res-hist-moved-mark", d.History.MovedMark, "Value marking a move")
	f.StringVar(&link.histGeoID, "res-hist-geoid", d.History.GeoIDColumn, "GEOID column in the residential history")
	f.StringVar(&link.histSurveyYr, "res-hist-survey-yr-col", d.History.SurveyYearColumn, "Survey year column")
	f.Float64Var(&link.histFirst, "res-hist-first-tract-mark", d.History.FirstTractMark, "Move year marking the first tract")

	rootCmd.AddCommand(linkCmd)
}

// apply copies every flag the user set onto cfg.
func (lf *linkFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	l, h := &cfg.Link, &cfg.History
	set("hrs-data", func() { l.SurveyPath = lf.surveyPath })
	set("context-dir", func() { l.ContextDir = lf.contextDir })
	set("save-dir", func() { l.SaveDir = lf.saveDir })
	set("output-name", func() { l.OutputName = lf.outputName })
	set("id-col", func() { l.IDColumn = lf.idCol })
	set("date-col", func() { l.DateColumn = lf.dateCol })
	set("measure-type", func() { l.MeasureType = lf.measureType })
	set("data-col", func() { l.DataColumns = lf.dataCols })
	set("geoid-col", func() { l.GeoIDColumn = lf.geoidCol })
	set("contextual-geoid-col", func() { l.ContextGeoIDColumn = lf.ctxGeoidCol })
	set("contextual-date-col", func() { l.ContextDateColumn = lf.ctxDateCol })
	set("file-extension", func() { l.FileExtension = lf.fileExt })
	set("shape", func() { l.Shape = lf.shape })
	set("read-type", func() { l.ReadType = lf.readType })
	set("rename-file", func() { l.RenameFile = lf.renameFile })
	set("n-lags", func() { l.NLags = lf.nLags })
	set("parallel", func() { l.Parallel = lf.parallel })
	set("max-workers", func() { l.MaxWorkers = lf.maxWorkers })
	set("auto-memory", func() { l.AutoMemory = lf.autoMemory })
	set("include-lag-date", func() { l.IncludeLagDate = lf.includeDate })
	set("temp-format", func() { l.TempFormat = lf.tempFormat })
	set("keep-temp", func() { l.KeepTemp = lf.keepTemp })
	set("chunk-rows", func() { l.ChunkRows = lf.chunkRows })
	set("preload-concurrency", func() { l.PreloadConcurrency = lf.preload })
	set("csv-engine", func() { l.CSVEngines = lf.csvEngines })
	set("status-addr", func() { cfg.Server.Addr = lf.statusAddr })

	set("residential-hist", func() { h.Path = lf.historyPath })
	set("res-hist-hhidpn", func() { h.IDColumn = lf.histID })
	set("res-hist-movecol", func() { h.MoveColumn = lf.histMove })
	set("res-hist-mvyear", func() { h.MoveYearColumn = lf.histYear })
	set("res-hist-mvmonth", func() { h.MoveMonthColumn = lf.histMonth })
	set("res-hist-moved-mark", func() { h.MovedMark = lf.histMoved })
	set("res-hist-geoid", func() { h.GeoIDColumn = lf.histGeoID })
	set("res-hist-survey-yr-col", func() { h.SurveyYearColumn = lf.histSurveyYr })
	set("res-hist-first-tract-mark", func() { h.FirstTractMark = lf.histFirst })
}

func runLink(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	link.apply(cmd.Flags(), cfg)

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(cmd.Context()); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	summary, err := a.Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\nWrote %d rows x %d columns to %s\n",
		summary.Batch.Describe(), summary.Rows, summary.Columns, summary.OutputPath)
	return nil
}
