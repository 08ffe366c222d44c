package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/api"
	"github.com/nexamediaserver/server-sub005/internal/artwork"
	"github.com/nexamediaserver/server-sub005/internal/config"
	"github.com/nexamediaserver/server-sub005/internal/db"
	"github.com/nexamediaserver/server-sub005/internal/enrichment"
	"github.com/nexamediaserver/server-sub005/internal/ffmpeg"
	"github.com/nexamediaserver/server-sub005/internal/jobs"
	"github.com/nexamediaserver/server-sub005/internal/keyframe"
	"github.com/nexamediaserver/server-sub005/internal/logging"
	"github.com/nexamediaserver/server-sub005/internal/metadata"
	"github.com/nexamediaserver/server-sub005/internal/models"
	"github.com/nexamediaserver/server-sub005/internal/preview"
	"github.com/nexamediaserver/server-sub005/internal/rendition"
	"github.com/nexamediaserver/server-sub005/internal/repository"
	"github.com/nexamediaserver/server-sub005/internal/scheduler"
)

var (
	videoTypes    = []models.ItemType{models.ItemTypeMovie, models.ItemTypeEpisode, models.ItemTypeMusicVideo}
	audioTypes    = []models.ItemType{models.ItemTypeTrack, models.ItemTypeAudiobook}
	groupingTypes = []models.ItemType{models.ItemTypeShow, models.ItemTypeSeason, models.ItemTypeAlbum, models.ItemTypeArtist}
)

// app holds everything the commands share.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *db.DB

	items     *repository.MediaRepository
	libraries *repository.LibraryRepository
	settings  *repository.SettingsRepository

	store       *artwork.Store
	renditions  *rendition.Cache
	coordinator *enrichment.Coordinator
	video       *preview.VideoThumbnailer
	ffmpeg      *ffmpeg.FFmpeg
	ffprobe     *ffmpeg.FFprobe
	queue       *jobs.Queue
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	// Settings can change the log level, so the bootstrap logger is temporary.
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := cfg.MergeFromDB(ctx, database.DB); err != nil {
		logger.Warn("database settings not applied", zap.Error(err))
	} else if logger, err = logging.NewFromConfig(cfg); err != nil {
		database.Close()
		return nil, err
	}

	for _, dir := range []string{cfg.ArtworkDir(), cfg.CacheDir(), cfg.KeyframeDir(), scratchDir(cfg)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			database.Close()
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		db:        database,
		items:     repository.NewMediaRepository(database.DB),
		libraries: repository.NewLibraryRepository(database.DB),
		settings:  repository.NewSettingsRepository(database.DB),
		store:     artwork.NewStore(cfg.ArtworkDir()),
		ffmpeg:    ffmpeg.NewFFmpeg(cfg.FFmpegPath),
		ffprobe:   ffmpeg.NewFFprobe(cfg.FFprobePath),
		queue:     jobs.NewQueue(cfg.RedisAddr, cfg.Worker.Concurrency, logger),
	}
	a.renditions = rendition.NewCache(cfg.CacheDir(), a.store, cfg.Rendition.DefaultQuality, logger)
	a.video = preview.NewVideoThumbnailer(a.ffmpeg, a.ffprobe, a.ffprobe, keyframe.NewIndex(cfg.KeyframeDir()),
		a.store, scratchDir(cfg), logger)
	a.coordinator = a.buildCoordinator()
	return a, nil
}

func scratchDir(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "scratch")
}

func (a *app) buildCoordinator() *enrichment.Coordinator {
	cfg, logger := a.cfg, a.logger
	registry := enrichment.NewRegistry(cfg.Enrichment.SourcePriority)

	locals := []metadata.Source{
		metadata.NewSidecarSource(logger),
		metadata.NewEmbeddedSource(a.ffprobe, a.ffmpeg, scratchDir(cfg), logger),
		metadata.NewFilenameSource(logger),
	}
	registry.Register(enrichment.Capabilities{Locals: locals}, videoTypes...)
	registry.Register(enrichment.Capabilities{Locals: locals}, audioTypes...)
	registry.Register(enrichment.Capabilities{Locals: locals[:1]}, groupingTypes...)

	client := metadata.ClientOptions{
		RequestsPerSecond: cfg.Agents.RequestsPerSecond,
		Timeout:           time.Duration(cfg.Agents.TimeoutSeconds) * time.Second,
	}
	tmdbOn, fanartOn, mbOn := cfg.AgentsEnabled()
	if tmdbOn {
		opts := metadata.TMDBOptions{ClientOptions: client, APIKey: cfg.Agents.TMDBAPIKey, MatchThreshold: cfg.Agents.MatchThreshold}
		opts.BaseURL = cfg.Agents.TMDBBaseURL
		registry.Register(enrichment.Capabilities{Agents: []metadata.Agent{metadata.NewTMDBAgent(opts, logger)}},
			models.ItemTypeMovie, models.ItemTypeShow, models.ItemTypeSeason, models.ItemTypeEpisode)
	}
	if fanartOn {
		opts := metadata.FanartTVOptions{ClientOptions: client, APIKey: cfg.Agents.FanartTVAPIKey}
		opts.BaseURL = cfg.Agents.FanartTVBaseURL
		registry.Register(enrichment.Capabilities{Agents: []metadata.Agent{metadata.NewFanartTVAgent(opts, logger)}},
			models.ItemTypeMovie, models.ItemTypeShow)
	}
	if mbOn {
		opts := metadata.MusicBrainzOptions{ClientOptions: client, MatchThreshold: cfg.Agents.MatchThreshold}
		opts.BaseURL = cfg.Agents.MusicBrainzBaseURL
		opts.UserAgent = cfg.Agents.MusicBrainzUserAgent
		registry.Register(enrichment.Capabilities{Agents: []metadata.Agent{metadata.NewMusicBrainzAgent(opts, logger)}},
			models.ItemTypeTrack, models.ItemTypeAlbum)
	}

	registry.Register(enrichment.Capabilities{Artwork: []artwork.Provider{a.video}}, videoTypes...)
	registry.Register(enrichment.Capabilities{Artwork: []artwork.Provider{preview.NewPhotoThumbnailer(a.store, 320, logger)}},
		models.ItemTypePhoto)

	normalizer := enrichment.NewNormalizer(cfg.Enrichment.GenreAliases, cfg.Enrichment.TagAllowList,
		cfg.Enrichment.TagBlockList, logger)
	ingestor := artwork.NewIngestor(a.store, &http.Client{Timeout: 30 * time.Second}, cfg.Agents.MusicBrainzUserAgent, logger)
	selector := artwork.NewSelector(a.store, cfg.Rendition.PlaceholderSize, logger)

	logger.Info("enrichment configured",
		zap.Bool("tmdb", tmdbOn),
		zap.Bool("fanarttv", fanartOn),
		zap.Bool("musicbrainz", mbOn),
		zap.Strings("source_priority", cfg.Enrichment.SourcePriority))
	return enrichment.NewCoordinator(registry, normalizer, a.store, ingestor, selector, a.logger)
}

func (a *app) enrichHandler() *jobs.EnrichHandler {
	return jobs.NewEnrichHandler(a.items, a.libraries, a.coordinator, jobs.NewDispatcher(a.queue, a.logger), a.logger)
}

func (a *app) registerHandlers() {
	jobs.RegisterHandlers(a.queue, jobs.Handlers{
		Enrich:    a.enrichHandler(),
		Analyze:   jobs.NewAnalyzeHandler(a.items, a.ffprobe, a.ffmpeg, a.logger),
		Keyframes: jobs.NewKeyframesHandler(a.items, a.video, a.logger),
	})
}

func (a *app) server() http.Handler {
	return api.NewServer(api.Deps{
		Items:     a.items,
		Libraries: a.libraries,
		Settings:  a.settings,
		Renderer:  a.renditions,
		Queue:     a.queue,
		Logger:    a.logger,
	})
}

// refreshScheduler re-enriches stale items while this process owns the queue.
// It returns nil when refreshing is disabled.
func (a *app) refreshScheduler() (*scheduler.Scheduler, error) {
	e := a.cfg.Enrichment
	if e.RefreshSchedule == "" || e.RefreshAfterDays <= 0 {
		return nil, nil
	}
	enqueue := func(ctx context.Context, id uuid.UUID) error {
		_, err := jobs.EnqueueEnrich(ctx, a.queue, jobs.EnrichPayload{ItemID: id.String(), MetadataOnly: true})
		return err
	}
	return scheduler.New(a.items, enqueue, scheduler.Options{
		Schedule:     e.RefreshSchedule,
		RefreshAfter: time.Duration(e.RefreshAfterDays) * 24 * time.Hour,
		Batch:        e.RefreshBatch,
	}, a.logger)
}

// workerLock guards the data dir against a second queue consumer.
func (a *app) workerLock() (*flock.Flock, error) {
	path := filepath.Join(a.cfg.DataDir, "worker.lock")
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire worker lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another worker holds %s", path)
	}
	return lock, nil
}

func (a *app) Close() {
	a.queue.Stop()
	a.db.Close()
	_ = a.logger.Sync()
}
