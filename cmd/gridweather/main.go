package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"github.com/lox/gridweather/internal/config"
	"github.com/lox/gridweather/internal/export"
	"github.com/lox/gridweather/internal/fusion"
	"github.com/lox/gridweather/internal/ingest"
	"github.com/lox/gridweather/internal/metrics"
	"github.com/lox/gridweather/internal/narrative"
	"github.com/lox/gridweather/internal/pipeline"
	"github.com/lox/gridweather/internal/store"
)

type Globals struct {
	Config  string `help:"Path to YAML config file." type:"path"`
	DB      string `help:"Path to SQLite database (overrides config)."`
	Output  string `help:"Output directory for artifacts (overrides config)."`
	EnvFile string `help:"Path to .env file." name:"env-file" type:"path"`
}

type CLI struct {
	Globals `embed:""`

	Run          RunCmd          `cmd:"" default:"1" help:"Acquire prices, fetch weather, fuse, repair, correlate and export."`
	Acquire      AcquireCmd      `cmd:"" help:"Acquire raw price files only."`
	FetchWeather FetchWeatherCmd `cmd:"" name:"fetch-weather" help:"Fetch and cache weather without running the fusion."`
	Cache        CacheCmd        `cmd:"" help:"Inspect or prune the weather cache."`
	Runs         RunsCmd         `cmd:"" help:"Show recent pipeline and ingest runs."`
}

// App carries what every command needs.
type App struct {
	ctx     context.Context
	globals *Globals
}

func (a *App) load() (*config.Config, *store.Store, error) {
	cfg, err := config.Load(a.globals.Config, a.globals.EnvFile)
	if err != nil {
		return nil, nil, err
	}
	if a.globals.DB != "" {
		cfg.DBPath = a.globals.DB
	}
	if a.globals.Output != "" {
		cfg.OutputRoot = a.globals.Output
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("create db dir: %w", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("database ready at %s", cfg.DBPath)
	return cfg, st, nil
}

func newWeather(cfg *config.Config, st *store.Store) (*ingest.VisualCrossing, error) {
	if cfg.WeatherAPIKey == "" {
		return nil, errors.New("VISUAL_CROSSING_API_KEY environment variable required")
	}
	vc := ingest.NewVisualCrossing(cfg.WeatherAPIKey, st)
	vc.SetAuditor(st)
	vc.SetLocation(cfg.Location())
	vc.SetInterval(cfg.FetchInterval)
	return vc, nil
}

func priceSources(cfg *config.Config, st *store.Store) []ingest.PriceSource {
	sources := []ingest.PriceSource{ingest.NewERCOTSource(cfg.ERCOT.ProductURL, cfg.ERCOT.Headless, st)}
	if cfg.FTP.Addr != "" {
		sources = append(sources, ingest.NewFTPSource(cfg.FTP.Addr, cfg.FTP.User, cfg.FTP.Password, cfg.FTP.Dir, st))
	}
	return sources
}

func pipelineConfig(cfg *config.Config, force bool) pipeline.Config {
	return pipeline.Config{
		RawDir:        cfg.RawDir,
		Zones:         cfg.ZonesOfInterest,
		ZoneLocations: cfg.ZoneLocations,
		PriceBounds:   cfg.PriceBounds,
		ForceAcquire:  force,
	}
}

type RunCmd struct {
	ForceAcquire bool `help:"Re-acquire price files even if the raw directory is complete."`
	NoAcquire    bool `help:"Use the raw directory as is."`
}

func (c *RunCmd) Run(app *App) error {
	cfg, st, err := app.load()
	if err != nil {
		return err
	}
	defer st.Close()

	for _, z := range cfg.ZonesWithoutLocation() {
		log.Printf("warning: zone %s has no weather location configured", z)
	}

	vc, err := newWeather(cfg, st)
	if err != nil {
		return err
	}
	p := pipeline.New(pipelineConfig(cfg, c.ForceAcquire), st, vc, export.New(cfg.OutputRoot))
	if !c.NoAcquire {
		p.SetSources(priceSources(cfg, st)...)
	}
	if cfg.Narrative.Enabled {
		gen, err := narrative.NewGenerator(cfg.Narrative.APIKey, cfg.Narrative.Model)
		if err != nil {
			log.Printf("narrative disabled: %v", err)
		} else {
			p.SetSummarizer(gen)
		}
	}

	started := time.Now()
	res, err := p.Run(app.ctx)

	if cfg.MetricsPushURL != "" {
		if perr := metrics.Push(context.Background(), cfg.MetricsPushURL, "gridweather"); perr != nil {
			log.Printf("metrics: %v", perr)
		}
	}
	if err != nil {
		return err
	}

	log.Printf("done in %s: %d cleaned rows across %d zones, artifacts in %s",
		time.Since(started).Round(time.Millisecond), len(res.Cleaned), len(res.Correlations), cfg.OutputRoot)
	if len(res.FailedZones) > 0 {
		log.Printf("weather unavailable for: %v", res.FailedZones)
	}
	return nil
}

type AcquireCmd struct {
	Force bool `help:"Re-acquire even if the raw directory is complete."`
}

func (c *AcquireCmd) Run(app *App) error {
	cfg, st, err := app.load()
	if err != nil {
		return err
	}
	defer st.Close()

	p := pipeline.New(pipelineConfig(cfg, c.Force), st, nil, export.New(cfg.OutputRoot))
	p.SetSources(priceSources(cfg, st)...)
	if err := p.Acquire(app.ctx); err != nil {
		return err
	}

	fr, err := st.CheckFreshness(cfg.RawDir)
	if err != nil {
		return err
	}
	log.Printf("raw dir %s: %d files, complete=%v", cfg.RawDir, len(fr.Files), fr.Complete())
	return nil
}

type FetchWeatherCmd struct {
	Location string `help:"Single location to fetch, e.g. 'Houston,TX'. Defaults to every zone in the raw price data."`
	Start    string `help:"Start date (YYYY-MM-DD) for --location."`
	End      string `help:"End date (YYYY-MM-DD) for --location."`
}

func (c *FetchWeatherCmd) Run(app *App) error {
	cfg, st, err := app.load()
	if err != nil {
		return err
	}
	defer st.Close()

	vc, err := newWeather(cfg, st)
	if err != nil {
		return err
	}

	if c.Location != "" {
		if c.Start == "" || c.End == "" {
			return errors.New("--start and --end are required with --location")
		}
		obs, err := vc.Fetch(app.ctx, c.Location, c.Start, c.End)
		if err != nil {
			return err
		}
		log.Printf("%s: %d observations", c.Location, len(obs))
		return nil
	}

	p := pipeline.New(pipelineConfig(cfg, false), st, vc, export.New(cfg.OutputRoot))
	prices, _, err := p.LoadPrices()
	if err != nil {
		return err
	}
	if len(prices) == 0 {
		return fmt.Errorf("%w: no price rows in %s", fusion.ErrEmptyDataset, cfg.RawDir)
	}
	weather, failed, err := p.FetchWeather(app.ctx, prices)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		log.Printf("weather unavailable for: %v", failed)
	}
	return export.New(cfg.OutputRoot).WriteWeather(weather)
}

type CacheCmd struct {
	Stats CacheStatsCmd `cmd:"" help:"List cached weather responses."`
	Prune CachePruneCmd `cmd:"" help:"Delete cached responses older than --days."`
}

type CacheStatsCmd struct{}

func (c *CacheStatsCmd) Run(app *App) error {
	_, st, err := app.load()
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.ListWeatherCache()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tOBSERVATIONS\tBYTES\tFETCHED\tSHA256")
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%.12s\n", e.Key, e.ObservationCount, e.SizeBytes, e.FetchedAt.Format(time.RFC3339), e.PayloadHash)
	}
	w.Flush()
	fmt.Printf("%d entries, %d bytes\n", len(entries), total)
	return nil
}

type CachePruneCmd struct {
	Days int `help:"Retention in days." default:"90"`
}

func (c *CachePruneCmd) Run(app *App) error {
	_, st, err := app.load()
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.PruneWeatherCache(c.Days)
	if err != nil {
		return err
	}
	log.Printf("pruned %d cache entries older than %d days", n, c.Days)
	return nil
}

type RunsCmd struct {
	Limit int `help:"Number of runs to show." default:"10"`
}

func (c *RunsCmd) Run(app *App) error {
	_, st, err := app.load()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.GetRecentPipelineRuns(c.Limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tPRICES\tSKIPPED\tJOINED\tGRID\tCLEANED\tZONES FAILED\tOK\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%v\t%s\n", r.ID, r.StartedAt.Format(time.RFC3339),
			r.PriceRows, r.SkippedRows, r.JoinedRows, r.GridRows, r.CleanedRows, r.ZonesFailed, r.Success, r.ErrorMessage.String)
	}
	w.Flush()

	ingestRuns, err := st.GetRecentIngestRuns(c.Limit)
	if err != nil {
		return err
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INGEST\tSTARTED\tSOURCE\tLOCATION\tSTATUS\tRECORDS\tOK")
	for _, r := range ingestRuns {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%v\n", r.ID, r.StartedAt.Format(time.RFC3339),
			r.Source, r.Location.String, r.HTTPStatus.Int64, r.RecordsParsed.Int64, r.Success)
	}
	return w.Flush()
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("gridweather"),
		kong.Description("Fuse ERCOT settlement prices with hourly weather and report per-zone correlations."),
		kong.UsageOnError(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := kctx.Run(&App{ctx: ctx, globals: &cli.Globals})
	if errors.Is(err, fusion.ErrEmptyDataset) {
		log.Printf("no data: %v", err)
		cancel()
		os.Exit(2)
	}
	kctx.FatalIfErrorf(err)
}
