package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cast"
)

type Config struct {
	Server      Server     `toml:"server"`
	DatabaseURL string     `toml:"database_url"`
	RedisAddr   string     `toml:"redis_addr"`
	DataDir     string     `toml:"data_dir"`
	FFmpegPath  string     `toml:"ffmpeg_path"`
	FFprobePath string     `toml:"ffprobe_path"`
	Log         Log        `toml:"log"`
	Agents      Agents     `toml:"agents"`
	Enrichment  Enrichment `toml:"enrichment"`
	Rendition   Rendition  `toml:"rendition"`
	Worker      Worker     `toml:"worker"`
}

type Server struct {
	Port int `toml:"port"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Agents struct {
	TMDBAPIKey           string  `toml:"tmdb_api_key"`
	TMDBBaseURL          string  `toml:"tmdb_base_url"`
	FanartTVAPIKey       string  `toml:"fanarttv_api_key"`
	FanartTVBaseURL      string  `toml:"fanarttv_base_url"`
	MusicBrainzUserAgent string  `toml:"musicbrainz_user_agent"`
	MusicBrainzBaseURL   string  `toml:"musicbrainz_base_url"`
	RequestsPerSecond    float64 `toml:"requests_per_second"`
	TimeoutSeconds       int     `toml:"timeout_seconds"`
	MatchThreshold       float64 `toml:"match_threshold"`
}

type Enrichment struct {
	// SourcePriority orders contributions for merging. Unknown names rank last.
	SourcePriority []string          `toml:"source_priority"`
	GenreAliases   map[string]string `toml:"genre_aliases"`
	TagAllowList   []string          `toml:"tag_allow_list"`
	TagBlockList   []string          `toml:"tag_block_list"`
	// RefreshSchedule is a cron expression for re-enriching stale items; empty disables it.
	RefreshSchedule  string `toml:"refresh_schedule"`
	RefreshAfterDays int    `toml:"refresh_after_days"`
	RefreshBatch     int    `toml:"refresh_batch"`
}

type Rendition struct {
	DefaultQuality  int `toml:"default_quality"`
	PlaceholderSize int `toml:"placeholder_size"`
}

type Worker struct {
	Concurrency int `toml:"concurrency"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:      Server{Port: 8080},
		DatabaseURL: "postgres://nexa:nexa@db:5432/nexa?sslmode=disable",
		RedisAddr:   "redis:6379",
		DataDir:     "/data",
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		Log:         Log{Level: "info", Format: "console"},
		Agents: Agents{
			TMDBBaseURL:          "https://api.themoviedb.org/3",
			FanartTVBaseURL:      "https://webservice.fanart.tv/v3",
			MusicBrainzBaseURL:   "https://musicbrainz.org/ws/2",
			MusicBrainzUserAgent: "NexaMediaServer/1.0 (https://github.com/nexamediaserver)",
			RequestsPerSecond:    4,
			TimeoutSeconds:       15,
			MatchThreshold:       0.6,
		},
		Enrichment: Enrichment{
			SourcePriority: []string{"sidecar", "tmdb", "fanarttv", "musicbrainz", "embedded"},
			GenreAliases: map[string]string{
				"sci-fi":          "Science Fiction",
				"scifi":           "Science Fiction",
				"science-fiction": "Science Fiction",
				"hip hop":         "Hip-Hop",
				"hiphop":          "Hip-Hop",
				"rnb":             "R&B",
				"r and b":         "R&B",
			},
			RefreshSchedule:  "0 4 * * *",
			RefreshAfterDays: 30,
			RefreshBatch:     200,
		},
		Rendition: Rendition{DefaultQuality: 85, PlaceholderSize: 64},
		Worker:    Worker{Concurrency: 4},
	}
}

// Load builds the configuration from defaults, the optional TOML file at path
// and environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("NEXA_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = envInt("PORT", c.Server.Port)
	c.DatabaseURL = env("DATABASE_URL", c.DatabaseURL)
	c.RedisAddr = env("REDIS_ADDR", c.RedisAddr)
	c.DataDir = env("DATA_DIR", c.DataDir)
	c.FFmpegPath = env("FFMPEG_PATH", c.FFmpegPath)
	c.FFprobePath = env("FFPROBE_PATH", c.FFprobePath)
	c.Log.Level = env("LOG_LEVEL", c.Log.Level)
	c.Log.Format = env("LOG_FORMAT", c.Log.Format)
	c.Agents.TMDBAPIKey = env("TMDB_API_KEY", c.Agents.TMDBAPIKey)
	c.Agents.FanartTVAPIKey = env("FANARTTV_API_KEY", c.Agents.FanartTVAPIKey)
	c.Agents.MusicBrainzUserAgent = env("MUSICBRAINZ_USER_AGENT", c.Agents.MusicBrainzUserAgent)
	if v := os.Getenv("SOURCE_PRIORITY"); v != "" {
		c.Enrichment.SourcePriority = splitList(v)
	}
	c.Worker.Concurrency = envInt("WORKER_CONCURRENCY", c.Worker.Concurrency)
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: out of range: %d", c.Server.Port)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir: must be set")
	}
	if c.Rendition.DefaultQuality < 1 || c.Rendition.DefaultQuality > 100 {
		return fmt.Errorf("rendition.default_quality: out of range: %d", c.Rendition.DefaultQuality)
	}
	if c.Rendition.PlaceholderSize <= 0 {
		c.Rendition.PlaceholderSize = 64
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 1
	}
	return nil
}

// MergeFromDB overlays values stored in the settings table.
func (c *Config) MergeFromDB(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		settings[key] = value
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate settings: %w", err)
	}
	c.ApplySettings(settings)
	return nil
}

// SettingKeys lists the keys ApplySettings understands.
var SettingKeys = []string{
	"tmdb_api_key", "fanarttv_api_key", "musicbrainz_user_agent",
	"agent_requests_per_second", "agent_match_threshold",
	"source_priority", "tag_allow_list", "tag_block_list",
	"refresh_after_days", "refresh_schedule",
	"rendition_quality", "worker_concurrency",
}

func IsSettingKey(key string) bool {
	for _, k := range SettingKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ApplySettings overlays key/value settings. Unknown keys and values that do not
// coerce are ignored.
func (c *Config) ApplySettings(settings map[string]string) {
	for key, value := range settings {
		switch key {
		case "tmdb_api_key":
			c.Agents.TMDBAPIKey = value
		case "fanarttv_api_key":
			c.Agents.FanartTVAPIKey = value
		case "musicbrainz_user_agent":
			c.Agents.MusicBrainzUserAgent = value
		case "agent_requests_per_second":
			if v, err := cast.ToFloat64E(value); err == nil && v > 0 {
				c.Agents.RequestsPerSecond = v
			}
		case "agent_match_threshold":
			if v, err := cast.ToFloat64E(value); err == nil && v > 0 && v <= 1 {
				c.Agents.MatchThreshold = v
			}
		case "source_priority":
			if list := splitList(value); len(list) > 0 {
				c.Enrichment.SourcePriority = list
			}
		case "tag_allow_list":
			c.Enrichment.TagAllowList = splitList(value)
		case "tag_block_list":
			c.Enrichment.TagBlockList = splitList(value)
		case "refresh_after_days":
			if v, err := cast.ToIntE(value); err == nil && v >= 0 {
				c.Enrichment.RefreshAfterDays = v
			}
		case "refresh_schedule":
			c.Enrichment.RefreshSchedule = strings.TrimSpace(value)
		case "rendition_quality":
			if v, err := cast.ToIntE(value); err == nil && v >= 1 && v <= 100 {
				c.Rendition.DefaultQuality = v
			}
		case "worker_concurrency":
			if v, err := cast.ToIntE(value); err == nil && v > 0 {
				c.Worker.Concurrency = v
			}
		}
	}
}

// AgentsEnabled reports which network agents have enough configuration to run.
func (c *Config) AgentsEnabled() (tmdb, fanart, musicbrainz bool) {
	return c.Agents.TMDBAPIKey != "", c.Agents.FanartTVAPIKey != "", c.Agents.MusicBrainzUserAgent != ""
}

func (c *Config) ArtworkDir() string {
	return filepath.Join(c.DataDir, "artwork")
}

func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "cache")
}

func (c *Config) KeyframeDir() string {
	return filepath.Join(c.DataDir, "keyframes")
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
