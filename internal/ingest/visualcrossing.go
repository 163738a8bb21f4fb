package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/lox/gridweather/internal/httputil"
	"github.com/lox/gridweather/internal/metrics"
	"github.com/lox/gridweather/internal/models"
	"github.com/lox/gridweather/internal/store"
)

const (
	VisualCrossingBaseURL = "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline"

	// MinFetchInterval is the smallest spacing allowed between outbound
	// weather calls.
	MinFetchInterval = 2 * time.Second
)

// WeatherSource returns hourly observations for a location over an
// inclusive date range (YYYY-MM-DD).
type WeatherSource interface {
	Fetch(ctx context.Context, location, start, end string) ([]models.WeatherObservation, error)
}

// WeatherCache is the durable response cache consulted before any
// outbound call.
type WeatherCache interface {
	GetWeather(key string) ([]models.WeatherObservation, bool, error)
	PutWeather(key, location, start, end string, obs []models.WeatherObservation) error
}

// IngestAuditor records outbound calls.
type IngestAuditor interface {
	StartIngestRun(source, endpoint string, zoneID, location *string) (*store.IngestRun, error)
	CompleteIngestRun(run *store.IngestRun) error
}

type VisualCrossing struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	cache      WeatherCache
	audit      IngestAuditor
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	loc        *time.Location
	maxElapsed time.Duration
}

// NewVisualCrossing creates a client that paces outbound calls at
// MinFetchInterval and converts timestamps to America/Chicago.
func NewVisualCrossing(apiKey string, cache WeatherCache) *VisualCrossing {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		loc = time.UTC
	}
	return &VisualCrossing{
		apiKey:  apiKey,
		baseURL: VisualCrossingBaseURL,
		client:  httputil.NewClient(),
		cache:   cache,
		limiter: rate.NewLimiter(rate.Every(MinFetchInterval), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "visualcrossing",
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("weather: breaker %s %s -> %s", name, from, to)
			},
		}),
		loc:        loc,
		maxElapsed: 2 * time.Minute,
	}
}

// SetBaseURL points the client at a different timeline endpoint.
func (v *VisualCrossing) SetBaseURL(u string) { v.baseURL = u }

// SetHTTPClient replaces the HTTP client.
func (v *VisualCrossing) SetHTTPClient(c *http.Client) { v.client = c }

// SetAuditor enables recording of every outbound call.
func (v *VisualCrossing) SetAuditor(a IngestAuditor) { v.audit = a }

// SetLocation sets the timezone hourly timestamps are floored in.
func (v *VisualCrossing) SetLocation(loc *time.Location) {
	if loc != nil {
		v.loc = loc
	}
}

// SetInterval changes the spacing between outbound calls. Values below
// MinFetchInterval are raised to it.
func (v *VisualCrossing) SetInterval(d time.Duration) {
	if d < MinFetchInterval {
		d = MinFetchInterval
	}
	v.limiter.SetLimit(rate.Every(d))
}

// SetMaxElapsed bounds the total retry time of one fetch.
func (v *VisualCrossing) SetMaxElapsed(d time.Duration) { v.maxElapsed = d }

type timelineResponse struct {
	ResolvedAddress string        `json:"resolvedAddress"`
	Timezone        string        `json:"timezone"`
	Days            []timelineDay `json:"days"`
}

type timelineDay struct {
	Datetime string         `json:"datetime"`
	Hours    []timelineHour `json:"hours"`
}

type timelineHour struct {
	DatetimeEpoch  int64    `json:"datetimeEpoch"`
	Temp           *float64 `json:"temp"`
	WindSpeed      *float64 `json:"windspeed"`
	SolarRadiation *float64 `json:"solarradiation"`
}

func nullable(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func (v *VisualCrossing) timelineURL(location, start, end string) string {
	q := url.Values{}
	q.Set("unitGroup", "us")
	q.Set("include", "hours")
	q.Set("key", v.apiKey)
	q.Set("contentType", "json")
	return fmt.Sprintf("%s/%s/%s/%s?%s", v.baseURL, url.PathEscape(location), start, end, q.Encode())
}

// Fetch returns cached observations when present; otherwise it makes one
// paced outbound call, parses and caches the result.
func (v *VisualCrossing) Fetch(ctx context.Context, location, start, end string) ([]models.WeatherObservation, error) {
	key := store.CacheKey(location, start, end)

	if v.cache != nil {
		obs, ok, err := v.cache.GetWeather(key)
		if err != nil {
			log.Printf("weather: cache read %s: %v", key, err)
		} else if ok {
			metrics.WeatherCacheLookups.WithLabelValues("hit").Inc()
			log.Printf("weather: cache hit %s (%d observations)", key, len(obs))
			return obs, nil
		}
		metrics.WeatherCacheLookups.WithLabelValues("miss").Inc()
	}

	var run *store.IngestRun
	if v.audit != nil {
		var err error
		run, err = v.audit.StartIngestRun("visualcrossing", "timeline", nil, &location)
		if err != nil {
			log.Printf("weather: failed to start ingest run: %v", err)
		}
	}

	body, status, err := v.get(ctx, location, v.timelineURL(location, start, end))
	if err == nil {
		var obs []models.WeatherObservation
		obs, err = v.parse(body)
		if err == nil {
			v.finishRun(run, status, len(body), len(obs), nil)
			if counts := flagObservations(obs); len(counts) > 0 {
				log.Printf("weather: %s sanity flags: %v", location, counts)
			}
			if v.cache != nil {
				if perr := v.cache.PutWeather(key, location, start, end, obs); perr != nil {
					log.Printf("weather: cache write %s: %v", key, perr)
				}
			}
			log.Printf("weather: fetched %d observations for %s %s..%s", len(obs), location, start, end)
			return obs, nil
		}
	}

	v.finishRun(run, status, len(body), 0, err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	return nil, &WeatherFetchError{Location: location, Status: status, Err: err}
}

// get performs the paced, retried and breaker-guarded request. status is the
// last HTTP status seen, 0 when no response arrived.
func (v *VisualCrossing) get(ctx context.Context, location, u string) ([]byte, int, error) {
	var (
		body   []byte
		status int
	)
	operation := func() error {
		if err := v.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		_, err := v.breaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			started := time.Now()
			resp, err := v.client.Do(req)
			metrics.WeatherAPILatency.WithLabelValues(location).Observe(time.Since(started).Seconds())
			if err != nil {
				metrics.WeatherAPICallsTotal.WithLabelValues(location, "error").Inc()
				return nil, backoff.Permanent(fmt.Errorf("request: %w", err))
			}
			defer resp.Body.Close()
			status = resp.StatusCode
			metrics.WeatherAPICallsTotal.WithLabelValues(location, strconv.Itoa(resp.StatusCode)).Inc()

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, fmt.Errorf("retryable status %d", resp.StatusCode)
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return nil, backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, string(b)))
			}

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return nil, backoff.Permanent(fmt.Errorf("read body: %w", err))
			}
			return nil, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = v.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, status, err
	}
	return body, status, nil
}

// parse converts a timeline payload into hourly observations. Epochs are
// converted to the client timezone, floored to the hour and made naive.
func (v *VisualCrossing) parse(body []byte) ([]models.WeatherObservation, error) {
	var data timelineResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if data.Days == nil {
		return nil, errors.New("malformed payload: no days")
	}

	var obs []models.WeatherObservation
	for _, day := range data.Days {
		for _, h := range day.Hours {
			local := time.Unix(h.DatetimeEpoch, 0).In(v.loc)
			obs = append(obs, models.WeatherObservation{
				Timestamp:       time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, time.UTC),
				Temperature:     nullable(h.Temp),
				WindSpeed:       nullable(h.WindSpeed),
				SolarIrradiance: nullable(h.SolarRadiation),
			})
		}
	}
	return obs, nil
}

func (v *VisualCrossing) finishRun(run *store.IngestRun, status, size, records int, err error) {
	if run == nil || v.audit == nil {
		return
	}
	if status != 0 {
		run.HTTPStatus = sql.NullInt64{Int64: int64(status), Valid: true}
	}
	run.ResponseSizeBytes = sql.NullInt64{Int64: int64(size), Valid: true}
	run.RecordsParsed = sql.NullInt64{Int64: int64(records), Valid: true}
	run.Success = err == nil
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	}
	if cerr := v.audit.CompleteIngestRun(run); cerr != nil {
		log.Printf("weather: failed to complete ingest run: %v", cerr)
	}
}
