package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lox/gridweather/internal/fusion"
)

type ERCOT struct {
	ProductURL string `yaml:"product_url" validate:"omitempty,url"`
	Headless   bool   `yaml:"headless"`
}

type FTP struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Dir      string `yaml:"dir"`
}

type Narrative struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model" validate:"required_if=Enabled true"`
	APIKey  string `yaml:"-"`
}

// Config is the full runtime configuration. Every field can be set in the
// YAML file; the environment overrides the file.
type Config struct {
	ZonesOfInterest []string           `yaml:"zones_of_interest" validate:"dive,required"`
	ZoneLocations   map[string]string  `yaml:"zone_locations" validate:"dive,keys,required,endkeys,required"`
	WeatherAPIKey   string             `yaml:"weather_api_key"`
	OutputRoot      string             `yaml:"output_root" validate:"required"`
	RawDir          string             `yaml:"raw_dir" validate:"required"`
	DBPath          string             `yaml:"db_path" validate:"required"`
	Timezone        string             `yaml:"timezone" validate:"required"`
	FetchInterval   time.Duration      `yaml:"fetch_interval" validate:"gte=0"`
	PriceBounds     fusion.PriceBounds `yaml:"price_bounds"`
	ERCOT           ERCOT              `yaml:"ercot"`
	FTP             FTP                `yaml:"ftp"`
	MetricsPushURL  string             `yaml:"metrics_push_url" validate:"omitempty,url"`
	Narrative       Narrative          `yaml:"narrative"`
}

// Default returns the configuration for the three Texas load zones.
func Default() *Config {
	return &Config{
		ZonesOfInterest: []string{"LZ_HOUSTON", "LZ_NORTH", "LZ_AEN"},
		ZoneLocations: map[string]string{
			"LZ_HOUSTON": "Houston,TX",
			"LZ_NORTH":   "Dallas,TX",
			"LZ_AEN":     "Austin,TX",
		},
		OutputRoot:    "data",
		RawDir:        "data/raw",
		DBPath:        "data/gridweather.db",
		Timezone:      "America/Chicago",
		FetchInterval: 2 * time.Second,
		PriceBounds:   fusion.DefaultPriceBounds,
		ERCOT:         ERCOT{Headless: true},
		Narrative:     Narrative{Model: "gpt-4o-mini"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the environment. envFile, when set, is loaded into the
// environment first; otherwise a .env in the working directory is used if
// present.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: .env not loaded: %v", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.ZonesOfInterest) == 0 {
		log.Printf("config: no zones of interest, keeping every settlement point")
	}
	return cfg, nil
}

// decodeYAML overlays the file onto cfg. yaml.v3 merges mappings into an
// existing map, so zone_locations is cleared first when the file sets it.
func decodeYAML(data []byte, cfg *Config) error {
	var keys map[string]yaml.Node
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return err
	}
	if _, ok := keys["zone_locations"]; ok {
		cfg.ZoneLocations = nil
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv() error {
	setString(&c.WeatherAPIKey, "VISUAL_CROSSING_API_KEY")
	setString(&c.OutputRoot, "GRIDWEATHER_OUTPUT")
	setString(&c.RawDir, "GRIDWEATHER_RAW_DIR")
	setString(&c.DBPath, "GRIDWEATHER_DB")
	setString(&c.Timezone, "GRIDWEATHER_TIMEZONE")
	setString(&c.MetricsPushURL, "GRIDWEATHER_METRICS_PUSH_URL")
	setString(&c.ERCOT.ProductURL, "ERCOT_PRODUCT_URL")
	setString(&c.FTP.Addr, "GRIDWEATHER_FTP_ADDR")
	setString(&c.FTP.User, "GRIDWEATHER_FTP_USER")
	setString(&c.FTP.Password, "GRIDWEATHER_FTP_PASSWORD")
	setString(&c.FTP.Dir, "GRIDWEATHER_FTP_DIR")
	setString(&c.Narrative.Model, "GRIDWEATHER_NARRATIVE_MODEL")
	setString(&c.Narrative.APIKey, "OPENAI_API_KEY")

	if v := os.Getenv("GRIDWEATHER_ZONES"); v != "" {
		c.ZonesOfInterest = splitList(v, ",")
	}
	if v := os.Getenv("GRIDWEATHER_ZONE_LOCATIONS"); v != "" {
		locs, err := parseZoneLocations(v)
		if err != nil {
			return fmt.Errorf("invalid GRIDWEATHER_ZONE_LOCATIONS: %w", err)
		}
		c.ZoneLocations = locs
	}
	if v := os.Getenv("GRIDWEATHER_FETCH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid GRIDWEATHER_FETCH_INTERVAL: %w", err)
		}
		c.FetchInterval = d
	}
	if v := os.Getenv("ERCOT_HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ERCOT_HEADLESS: %w", err)
		}
		c.ERCOT.Headless = b
	}
	if v := os.Getenv("GRIDWEATHER_NARRATIVE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid GRIDWEATHER_NARRATIVE: %w", err)
		}
		c.Narrative.Enabled = b
	}
	return nil
}

// Validate checks field constraints and the cross-field rules the struct
// tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.PriceBounds.Min >= c.PriceBounds.Max {
		return fmt.Errorf("invalid config: price_bounds min %v must be below max %v", c.PriceBounds.Min, c.PriceBounds.Max)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid config: timezone: %w", err)
	}
	return nil
}

// Location returns the configured timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ZonesWithoutLocation lists zones of interest that have no weather
// location configured.
func (c *Config) ZonesWithoutLocation() []string {
	var missing []string
	for _, z := range c.ZonesOfInterest {
		if c.ZoneLocations[z] == "" {
			missing = append(missing, z)
		}
	}
	return missing
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseZoneLocations parses "LZ_A=City,ST;LZ_B=City,ST".
func parseZoneLocations(s string) (map[string]string, error) {
	locs := make(map[string]string)
	for _, pair := range splitList(s, ";") {
		zone, loc, ok := strings.Cut(pair, "=")
		zone, loc = strings.TrimSpace(zone), strings.TrimSpace(loc)
		if !ok || zone == "" || loc == "" {
			return nil, fmt.Errorf("bad entry %q", pair)
		}
		locs[zone] = loc
	}
	return locs, nil
}
