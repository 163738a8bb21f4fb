// Package pipeline runs acquisition, fusion, repair, correlation and export
// end to end.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/hashicorp/go-multierror"

	"github.com/lox/gridweather/internal/export"
	"github.com/lox/gridweather/internal/fusion"
	"github.com/lox/gridweather/internal/ingest"
	"github.com/lox/gridweather/internal/metrics"
	"github.com/lox/gridweather/internal/models"
	"github.com/lox/gridweather/internal/narrative"
	"github.com/lox/gridweather/internal/store"
)

// maxLoggedRowErrors caps per-row log lines; the rest are only counted.
const maxLoggedRowErrors = 50

// RunStore is the persistence the pipeline needs: the acquisition manifest
// and the run audit trail.
type RunStore interface {
	CheckFreshness(dir string) (store.Freshness, error)
	StartPipelineRun() (*store.PipelineRun, error)
	CompletePipelineRun(run *store.PipelineRun) error
}

type Config struct {
	RawDir        string
	Zones         []string
	ZoneLocations map[string]string
	PriceBounds   fusion.PriceBounds
	ForceAcquire  bool
}

type Pipeline struct {
	cfg        Config
	runs       RunStore
	weather    ingest.WeatherSource
	exporter   *export.Exporter
	sources    []ingest.PriceSource
	summarizer narrative.Summarizer
}

func New(cfg Config, runs RunStore, weather ingest.WeatherSource, exporter *export.Exporter) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		runs:     runs,
		weather:  weather,
		exporter: exporter,
	}
}

// SetSources configures where raw price files are acquired from. Without
// sources the raw directory is used as is.
func (p *Pipeline) SetSources(sources ...ingest.PriceSource) {
	p.sources = sources
}

// SetSummarizer enables the narrative summary of the correlation report.
func (p *Pipeline) SetSummarizer(s narrative.Summarizer) {
	p.summarizer = s
}

// Result holds every intermediate dataset of a run.
type Result struct {
	Prices       []models.PriceRecord
	RowErrors    []*fusion.RowError
	Weather      map[string][]models.WeatherObservation
	FailedZones  []string
	Joined       []models.JoinedRecord
	Grid         []models.GridRecord
	Cleaned      []models.GridRecord
	Repair       fusion.RepairStats
	Correlations []models.CorrelationResult
	Summary      string
}

// Run executes the whole pipeline once. It returns fusion.ErrEmptyDataset,
// without writing any artifact, when no prices survive normalization or the
// join is empty.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	var run *store.PipelineRun
	if p.runs != nil {
		var err error
		run, err = p.runs.StartPipelineRun()
		if err != nil {
			log.Printf("pipeline: failed to start run record: %v", err)
		} else {
			log.Printf("pipeline: run %s started", run.ID)
		}
	}

	res, err := p.run(ctx)
	p.completeRun(run, res, err)
	return res, err
}

func (p *Pipeline) run(ctx context.Context) (*Result, error) {
	res := &Result{}

	if err := p.Acquire(ctx); err != nil {
		return res, err
	}

	prices, rowErrs, err := p.LoadPrices()
	if err != nil {
		return res, err
	}
	res.Prices, res.RowErrors = prices, rowErrs
	if len(prices) == 0 {
		return res, fmt.Errorf("%w: no price rows after normalization", fusion.ErrEmptyDataset)
	}

	weather, failed, err := p.FetchWeather(ctx, prices)
	if err != nil {
		return res, err
	}
	res.Weather, res.FailedZones = weather, failed

	res.Joined = fusion.Join(prices, weather)
	log.Printf("pipeline: joined %d rows", len(res.Joined))
	if len(res.Joined) == 0 {
		return res, fmt.Errorf("%w: join produced no rows", fusion.ErrEmptyDataset)
	}

	if err := p.writeInputs(res); err != nil {
		return res, err
	}

	res.Grid = fusion.BuildGrid(res.Joined)
	metrics.GridRows.Set(float64(len(res.Grid)))
	res.Cleaned, res.Repair = fusion.Repair(res.Grid, p.cfg.PriceBounds)
	for _, f := range models.Fields {
		metrics.InterpolatedCells.WithLabelValues(f.String()).Add(float64(res.Repair.Interpolated[f]))
	}
	metrics.OutliersDropped.Add(float64(res.Repair.Dropped))
	log.Printf("pipeline: grid %d rows, interpolated %v, dropped %d, kept %d",
		len(res.Grid), res.Repair.Interpolated, res.Repair.Dropped, len(res.Cleaned))

	res.Correlations = fusion.Correlate(res.Cleaned)
	insufficient := 0
	for _, c := range res.Correlations {
		if c.Insufficient {
			insufficient++
			log.Printf("pipeline: %s has insufficient data for correlation (%d rows)", c.ZoneID, c.Rows)
		}
	}
	metrics.ZonesInsufficient.Set(float64(insufficient))

	if err := p.writeResults(res); err != nil {
		return res, err
	}

	if p.summarizer != nil {
		text, err := p.summarizer.Summarize(ctx, res.Correlations)
		if err != nil {
			log.Printf("pipeline: narrative summary failed: %v", err)
		} else {
			res.Summary = text
			if err := p.exporter.WriteSummary(text); err != nil {
				return res, err
			}
		}
	}

	return res, nil
}

// writeInputs writes the price, weather and merged artifacts. Nothing is
// written until the join is known to be non-empty.
func (p *Pipeline) writeInputs(res *Result) error {
	if err := p.exporter.WritePrices(res.Prices); err != nil {
		return err
	}
	if err := p.exporter.WritePivot(fusion.PivotPrices(res.Prices)); err != nil {
		return err
	}
	if err := p.exporter.WriteWeather(res.Weather); err != nil {
		return err
	}
	return p.exporter.WriteMerged(res.Joined)
}

func (p *Pipeline) writeResults(res *Result) error {
	if err := p.exporter.WriteCleaned(res.Cleaned); err != nil {
		return err
	}
	if err := p.exporter.WriteCleanedJSON(res.Cleaned); err != nil {
		return err
	}
	if err := p.exporter.WriteCleanedParquet(res.Cleaned); err != nil {
		return err
	}
	if err := p.exporter.WriteCorrelationsJSON(res.Correlations); err != nil {
		return err
	}
	return p.exporter.WriteCorrelationsXLSX(res.Correlations)
}

// Acquire refreshes the raw directory from the configured sources unless
// the manifest shows it is already complete. Per-file failures are logged;
// the run continues with whatever was acquired.
func (p *Pipeline) Acquire(ctx context.Context) error {
	if len(p.sources) == 0 {
		return nil
	}
	if !p.cfg.ForceAcquire && p.runs != nil {
		fr, err := p.runs.CheckFreshness(p.cfg.RawDir)
		if err != nil {
			return fmt.Errorf("check raw dir: %w", err)
		}
		if fr.Complete() {
			log.Printf("pipeline: raw dir complete (%d files), skipping acquisition", len(fr.Files))
			return nil
		}
		log.Printf("pipeline: raw dir stale (%d files, %d unknown, %d modified)",
			len(fr.Files), len(fr.Unknown), len(fr.Modified))
	}

	for _, src := range p.sources {
		res, err := src.Acquire(ctx, p.cfg.RawDir)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			var merr *multierror.Error
			if errors.As(err, &merr) {
				for _, e := range merr.Errors {
					log.Printf("pipeline: %s: %v", src.Name(), e)
				}
			} else {
				log.Printf("pipeline: %s acquisition failed: %v", src.Name(), err)
			}
		}
		log.Printf("pipeline: %s acquired %d files (%d failed)", src.Name(), len(res.Files), res.Failed)
	}
	return nil
}

// LoadPrices reads and normalizes the raw directory. Unreadable files and
// malformed rows are logged and skipped.
func (p *Pipeline) LoadPrices() ([]models.PriceRecord, []*fusion.RowError, error) {
	rows, err := ingest.LoadPriceDir(p.cfg.RawDir)
	if err != nil {
		var merr *multierror.Error
		if !errors.As(err, &merr) {
			return nil, nil, err
		}
		for _, e := range merr.Errors {
			log.Printf("pipeline: %v", e)
		}
	}

	prices, rowErrs := fusion.Normalize(rows, fusion.ZoneSet(p.cfg.Zones))
	for i, e := range rowErrs {
		if i == maxLoggedRowErrors {
			log.Printf("pipeline: %d more malformed rows not shown", len(rowErrs)-i)
			break
		}
		log.Printf("pipeline: skipping row: %v", e)
	}
	metrics.PriceRowsNormalized.Add(float64(len(prices)))
	metrics.PriceRowsSkipped.Add(float64(len(rowErrs)))
	log.Printf("pipeline: normalized %d price rows, skipped %d", len(prices), len(rowErrs))
	return prices, rowErrs, nil
}

// FetchWeather requests weather for each zone's date span, one zone at a
// time. A zone without a configured location is skipped; a zone whose fetch
// fails is reported in failed and left out of the result.
func (p *Pipeline) FetchWeather(ctx context.Context, prices []models.PriceRecord) (map[string][]models.WeatherObservation, []string, error) {
	weather := make(map[string][]models.WeatherObservation)
	var failed []string

	for _, span := range fusion.ZoneSpans(prices) {
		location := p.cfg.ZoneLocations[span.ZoneID]
		if location == "" {
			log.Printf("pipeline: no weather location for %s, skipping", span.ZoneID)
			continue
		}

		obs, err := p.weather.Fetch(ctx, location, span.StartDate(), span.EndDate())
		if err != nil {
			if ctx.Err() != nil {
				return weather, failed, ctx.Err()
			}
			var ferr *ingest.WeatherFetchError
			if !errors.As(err, &ferr) {
				return weather, failed, fmt.Errorf("fetch weather for %s: %w", span.ZoneID, err)
			}
			log.Printf("pipeline: %v; omitting %s", err, span.ZoneID)
			failed = append(failed, span.ZoneID)
			continue
		}

		stamped := make([]models.WeatherObservation, len(obs))
		for i, o := range obs {
			o.ZoneID = span.ZoneID
			stamped[i] = o
		}
		weather[span.ZoneID] = stamped
	}
	return weather, failed, nil
}

func (p *Pipeline) completeRun(run *store.PipelineRun, res *Result, runErr error) {
	if run == nil || p.runs == nil {
		return
	}
	if res != nil {
		run.PriceRows = len(res.Prices)
		run.SkippedRows = len(res.RowErrors)
		run.JoinedRows = len(res.Joined)
		run.GridRows = len(res.Grid)
		run.CleanedRows = len(res.Cleaned)
		run.ZonesFailed = len(res.FailedZones)
	}
	run.Success = runErr == nil
	if runErr != nil {
		run.ErrorMessage = sql.NullString{String: runErr.Error(), Valid: true}
	}
	if err := p.runs.CompletePipelineRun(run); err != nil {
		log.Printf("pipeline: failed to complete run record: %v", err)
	}
}
