package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lox/gridweather/internal/models"
)

// CacheKey builds the weather cache key "{location}_{start}_{end}" with the
// location normalised: trimmed, commas replaced by underscores, spaces removed.
func CacheKey(location, start, end string) string {
	loc := strings.TrimSpace(location)
	loc = strings.ReplaceAll(loc, ",", "_")
	loc = strings.ReplaceAll(loc, " ", "")
	return fmt.Sprintf("%s_%s_%s", loc, start, end)
}

// WeatherCacheEntry describes a cached provider response.
type WeatherCacheEntry struct {
	Key              string
	Location         string
	StartDate        string
	EndDate          string
	FetchedAt        time.Time
	ObservationCount int
	PayloadHash      string
	SizeBytes        int64
}

type cachedObservation struct {
	Timestamp       time.Time `json:"timestamp"`
	Temperature     *float64  `json:"temperature"`
	WindSpeed       *float64  `json:"windspeed"`
	SolarIrradiance *float64  `json:"solar_irradiance"`
}

func toPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func fromPtr(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func encodeObservations(obs []models.WeatherObservation) ([]byte, string, error) {
	rows := make([]cachedObservation, len(obs))
	for i, o := range obs {
		rows[i] = cachedObservation{
			Timestamp:       o.Timestamp,
			Temperature:     toPtr(o.Temperature),
			WindSpeed:       toPtr(o.WindSpeed),
			SolarIrradiance: toPtr(o.SolarIrradiance),
		}
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return nil, "", fmt.Errorf("marshal observations: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return nil, "", fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, "", fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)
	return buf.Bytes(), hex.EncodeToString(hash[:]), nil
}

func decodeObservations(compressed []byte) ([]models.WeatherObservation, error) {
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	payload, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}

	var rows []cachedObservation
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal observations: %w", err)
	}

	obs := make([]models.WeatherObservation, len(rows))
	for i, r := range rows {
		obs[i] = models.WeatherObservation{
			Timestamp:       r.Timestamp.UTC(),
			Temperature:     fromPtr(r.Temperature),
			WindSpeed:       fromPtr(r.WindSpeed),
			SolarIrradiance: fromPtr(r.SolarIrradiance),
		}
	}
	return obs, nil
}

// GetWeather returns the cached observations for a key. The boolean is false
// on a cache miss.
func (s *Store) GetWeather(key string) ([]models.WeatherObservation, bool, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM weather_cache WHERE cache_key = ?`, key).
		Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	obs, err := decodeObservations(compressed)
	if err != nil {
		return nil, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return obs, true, nil
}

// PutWeather stores observations under key. An existing entry is kept: the
// first writer wins.
func (s *Store) PutWeather(key, location, start, end string, obs []models.WeatherObservation) error {
	compressed, hash, err := encodeObservations(obs)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO weather_cache
		(cache_key, location, start_date, end_date, fetched_at, observation_count, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO NOTHING
	`, key, location, start, end, time.Now().UTC(), len(obs), compressed, hash)
	if err != nil {
		return fmt.Errorf("insert weather cache: %w", err)
	}
	return nil
}

// ListWeatherCache returns every cache entry, newest first.
func (s *Store) ListWeatherCache() ([]WeatherCacheEntry, error) {
	rows, err := s.db.Query(`
		SELECT cache_key, location, start_date, end_date, fetched_at, observation_count,
		       payload_hash, LENGTH(payload_compressed)
		FROM weather_cache
		ORDER BY fetched_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []WeatherCacheEntry
	for rows.Next() {
		var e WeatherCacheEntry
		if err := rows.Scan(&e.Key, &e.Location, &e.StartDate, &e.EndDate, &e.FetchedAt,
			&e.ObservationCount, &e.PayloadHash, &e.SizeBytes); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneWeatherCache deletes entries fetched more than retentionDays ago.
func (s *Store) PruneWeatherCache(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := s.db.Exec(`DELETE FROM weather_cache WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
