package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/api"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/cache"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/database"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/middleware"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/queue"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/storage"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/tracing"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/upload"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/webhook"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitSetup   = 2
	queueLockID = "queue"

	// the lock is refreshed while the run lasts, so a crashed run frees it within a minute
	queueLockTTL = time.Minute
)

// flagBindings maps command line flags onto configuration keys
var flagBindings = map[string]string{
	"output":              "encode.outputDir",
	"qualities":           "encode.qualities",
	"backend":             "encode.backend",
	"transcribe":          "transcription.enabled",
	"language":            "transcription.language",
	"whisper-model":       "transcription.model",
	"upload":              "upload.enabled",
	"course-id":           "upload.courseID",
	"video-name":          "upload.videoName",
	"upload-language":     "upload.language",
	"delete-after-upload": "upload.deleteAfterUpload",
	"presigner":           "upload.presigner",
	"serve":               "server.enabled",
	"port":                "server.port",
	"metrics":             "metrics.enabled",
	"log-level":           "logging.level",
	"log-format":          "logging.format",
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("hlsconvert", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hlsconvert [flags] FILE...\n\n")
		flags.PrintDefaults()
	}
	configPath := flags.StringP("config", "c", os.Getenv("CONFIG_PATH"), "config file (yaml)")
	flags.StringP("output", "o", "", "output base directory")
	flags.StringSliceP("qualities", "q", nil, "qualities to render (1080p,720p,480p,360p)")
	flags.StringP("backend", "b", "", "encoder backend (cpu, amd, nvidia, intel)")
	flags.BoolP("transcribe", "t", false, "generate subtitles with speech-to-text")
	flags.String("language", "", "transcription language hint, auto to detect")
	flags.String("whisper-model", "", "speech model name")
	flags.BoolP("upload", "u", false, "upload each package to the content backend")
	flags.String("course-id", "", "course identifier (24 hex characters)")
	flags.String("video-name", "", "video name used in storage keys")
	flags.String("upload-language", "", "content language of the upload")
	flags.Bool("delete-after-upload", false, "delete local output after a successful upload")
	flags.String("presigner", "", "upload URL source (backend, bucket)")
	flags.Bool("serve", false, "serve status and commands over HTTP while running")
	flags.Int("port", 0, "status server port")
	flags.Bool("metrics", false, "expose prometheus metrics")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")
	tokenSubject := flags.String("print-token", "", "print a command token for SUBJECT and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitSetup
	}

	v, err := config.NewViper(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitSetup
	}
	if err := bindFlags(v, flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		return exitSetup
	}
	cfg, err := config.LoadViper(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitSetup
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return exitSetup
	}

	if *tokenSubject != "" {
		return printToken(cfg.Server, *tokenSubject, logger)
	}

	files := flags.Args()
	if len(files) == 0 {
		flags.Usage()
		return exitSetup
	}

	settings := database.NewSettingsRepository(cfg.State.SettingsFile, logger)
	applySavedSettings(cfg, flags, settings, logger)

	if err := cfg.Validate(); err != nil {
		logger.ErrorWithErr("Invalid configuration", err)
		return exitSetup
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing
	_, tracerCloser, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		logger.ErrorWithErr("Failed to initialize tracing", err)
		return exitSetup
	}
	defer tracerCloser.Close()

	// Tools
	ffmpeg := transcoder.NewFFmpeg(cfg.Tools.FFmpegPath, cfg.Tools.FFprobePath)
	if err := ffmpeg.CheckTools(ctx); err != nil {
		logger.ErrorWithErr("FFmpeg is not available", err)
		return exitSetup
	}
	backend := selectBackend(ctx, ffmpeg.FFmpegPath(), models.ParseEncoderBackend(cfg.Encode.Backend), logger)

	catalog := models.DefaultQualityCatalog()
	qualities, err := catalog.Select(cfg.Encode.Qualities)
	if err != nil {
		logger.ErrorWithErr("Invalid quality selection", err)
		return exitSetup
	}

	// State
	history := database.NewHistoryRepository(cfg.State.HistoryFile, logger)
	if err := history.Load(); err != nil {
		logger.WithError(err).Warn("Render history not loaded, starting empty")
	}

	opts := queue.Options{
		OutputBaseDir: cfg.Encode.OutputDir,
		Qualities:     qualities,
		Catalog:       catalog,
		Backend:       backend,
		Transcribe:    cfg.Transcription.Enabled,
		Language:      cfg.Transcription.Language,
		TickInterval:  cfg.Transcription.TickInterval,
	}
	deps := queue.Dependencies{
		Prober: ffmpeg,
		Encoder: transcoder.NewEncoder(ffmpeg.FFmpegPath(), transcoder.EncoderOptions{
			StallTimeout: cfg.Encode.StallTimeout,
			PollInterval: cfg.Encode.PollInterval,
		}, logger),
		History:  history,
		Settings: settings,
		Logger:   logger,
	}

	if cfg.Transcription.Enabled {
		engine := transcoder.NewWhisperCLI(cfg.Tools.WhisperPath, cfg.Transcription.Model)
		deps.Transcriber = transcoder.NewTranscriber(ffmpeg, engine, logger)
	}

	if cfg.Upload.Enabled {
		uploader, err := newUploader(ctx, cfg, logger)
		if err != nil {
			logger.ErrorWithErr("Upload target not ready", err)
			return exitSetup
		}
		deps.Uploader = uploader
		opts.Upload = &queue.UploadOptions{
			CourseID:          cfg.Upload.CourseID,
			VideoName:         cfg.Upload.VideoName,
			Language:          cfg.Upload.Language,
			DeleteAfterUpload: cfg.Upload.DeleteAfterUpload,
			UploadedBy:        cfg.Upload.UploadedBy,
		}
	}

	// Observers
	status := api.NewStatus()
	deps.Observers = []queue.Observer{queue.NewLogObserver(logger), status}

	var hooks *webhook.Service
	if cfg.Webhook.URL != "" {
		hooks = webhook.NewService(cfg.Webhook, logger)
		deps.Observers = append(deps.Observers, hooks)
	}

	var progressCache *cache.Cache
	lockOwner := uuid.New().String()
	if cfg.Redis.Enabled {
		progressCache, err = cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, progress is not shared")
			progressCache = nil
		} else {
			defer progressCache.Close()
			acquired, err := progressCache.AcquireLock(ctx, queueLockID, lockOwner, queueLockTTL)
			if err != nil {
				logger.WithError(err).Warn("Queue lock not checked")
			} else if !acquired {
				logger.Error("Another queue is already running against this Redis instance")
				return exitSetup
			} else {
				defer releaseLock(progressCache, lockOwner, logger)
				stopKeep := progressCache.KeepLock(ctx, queueLockID, lockOwner, queueLockTTL, queueLockTTL/3, func(err error) {
					logger.WithError(err).Warn("Queue lock not refreshed")
				})
				defer stopKeep()
			}
			deps.Observers = append(deps.Observers, cache.NewProgressSink(progressCache, logger))
		}
	}

	runner, err := queue.NewRunner(opts, deps)
	if err != nil {
		logger.ErrorWithErr("Failed to create queue", err)
		return exitSetup
	}

	// Servers
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServerOn(cfg.Server.Host, cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorWithErr("Metrics server failed", err)
			}
		}()
	}

	var statusServer *api.Server
	if cfg.Server.Enabled {
		statusServer = api.NewServer(cfg.Server, status, runner, history, logger)
		statusServer.Start()
	}

	logger.WithFields(map[string]interface{}{
		"files":     len(files),
		"qualities": cfg.Encode.Qualities,
		"backend":   string(backend),
		"output":    cfg.Encode.OutputDir,
	}).Info("Starting queue")

	summary := runner.Run(ctx, files)
	fmt.Println(summary.Message)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if hooks != nil {
		if err := hooks.Wait(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Webhook deliveries still pending at exit")
		}
	}
	if statusServer != nil {
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorWithErr("Status server forced to shutdown", err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorWithErr("Metrics server forced to shutdown", err)
		}
	}

	if summary.Outcome != models.OutcomeAllSucceeded {
		return exitFailed
	}
	return exitOK
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagBindings {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("flag %s: %w", name, err)
		}
	}
	return nil
}

// applySavedSettings fills upload fields left unset from the last successful upload
func applySavedSettings(cfg *config.Config, flags *pflag.FlagSet, settings *database.SettingsRepository, logger *logging.Logger) {
	if !cfg.Upload.Enabled {
		return
	}
	saved, found, err := settings.Load()
	if err != nil {
		logger.WithError(err).Warn("Saved upload settings not loaded")
		return
	}
	if !found {
		return
	}
	if cfg.Upload.CourseID == "" {
		cfg.Upload.CourseID = saved.CourseID
	}
	if cfg.Upload.VideoName == "" {
		cfg.Upload.VideoName = saved.VideoName
	}
	if !explicit(flags, "upload-language", "HLS_UPLOAD_LANGUAGE") && saved.Language != "" {
		cfg.Upload.Language = saved.Language
	}
	if !explicit(flags, "delete-after-upload", "HLS_UPLOAD_DELETEAFTERUPLOAD") {
		cfg.Upload.DeleteAfterUpload = saved.DeleteAfterUpload
	}
}

// explicit reports whether a value came from the command line or the environment
func explicit(flags *pflag.FlagSet, flag, env string) bool {
	if flags.Changed(flag) {
		return true
	}
	_, ok := os.LookupEnv(env)
	return ok
}

// selectBackend falls back to cpu when the local ffmpeg lacks the requested encoder
func selectBackend(ctx context.Context, ffmpegPath string, requested models.EncoderBackend, logger *logging.Logger) models.EncoderBackend {
	if !requested.IsHardware() {
		return requested
	}
	capability, err := transcoder.NewBackendDetector(ffmpegPath).Detect(ctx)
	if err != nil {
		logger.WithError(err).Warnf("Encoder detection failed, using %s", models.BackendCPU.DisplayName())
		return models.BackendCPU
	}
	if !capability.Supports(requested) {
		logger.Warnf("%s is not supported by this ffmpeg build, using %s", requested.DisplayName(), models.BackendCPU.DisplayName())
		return models.BackendCPU
	}
	return requested
}

// newUploader wires the presigner chosen by configuration to an upload manager.
// Content records always go through the backend API.
func newUploader(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*upload.Manager, error) {
	client := upload.NewClient(cfg.Backend, nil)

	var presigner upload.Presigner = client
	if cfg.Upload.Presigner == "bucket" {
		bucket, err := storage.New(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		if err := bucket.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		presigner = bucket
	}

	if err := client.ValidateConnection(ctx); err != nil {
		return nil, fmt.Errorf("backend connection: %w", err)
	}

	return upload.NewManager(presigner, client, &http.Client{Timeout: cfg.Backend.UploadTimeout}, logger), nil
}

func releaseLock(c *cache.Cache, owner string, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.ReleaseLock(ctx, queueLockID, owner); err != nil {
		logger.WithError(err).Warn("Queue lock not released")
	}
}

func printToken(cfg config.ServerConfig, subject string, logger *logging.Logger) int {
	if cfg.AuthSecret == "" {
		logger.Error("server.authSecret is not set; commands are unauthenticated")
		return exitSetup
	}
	token, err := middleware.GenerateToken(cfg.AuthSecret, subject, 24*time.Hour)
	if err != nil {
		logger.ErrorWithErr("Failed to generate token", err)
		return exitSetup
	}
	fmt.Println(token)
	return exitOK
}
