package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Tools         ToolsConfig
	Encode        EncodeConfig
	Transcription TranscriptionConfig
	Backend       BackendConfig
	Upload        UploadConfig
	Storage       StorageConfig
	Redis         RedisConfig
	Server        ServerConfig
	Metrics       MetricsConfig
	Tracing       TracingConfig
	Webhook       WebhookConfig
	Logging       LoggingConfig
	State         StateConfig
}

// ToolsConfig holds external executable locations
type ToolsConfig struct {
	FFmpegPath  string
	FFprobePath string
	WhisperPath string
}

// EncodeConfig holds rendition encoding configuration
type EncodeConfig struct {
	OutputDir    string
	Qualities    []string
	Backend      string
	StallTimeout time.Duration
	PollInterval time.Duration
}

// TranscriptionConfig holds speech-to-text configuration
type TranscriptionConfig struct {
	Enabled      bool
	Language     string
	Model        string
	TickInterval time.Duration
}

// BackendConfig holds the content backend API configuration
type BackendConfig struct {
	URL                  string
	AuthToken            string
	DefaultLanguage      string
	PresignExactEndpoint string
	FileCreateEndpoint   string
	AuthValidateEndpoint string
	Timeout              time.Duration
	UploadTimeout        time.Duration
}

// UploadConfig holds per-run upload parameters
type UploadConfig struct {
	Enabled           bool
	CourseID          string
	VideoName         string
	Language          string
	DeleteAfterUpload bool
	UploadedBy        string
	// Presigner is "backend" (API issued URLs) or "bucket" (direct object storage)
	Presigner string
}

// StorageConfig holds object storage configuration for direct bucket presigning
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	PresignExpiry   time.Duration
}

// RedisConfig holds the optional progress sink configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// ServerConfig holds the status/command HTTP server configuration
type ServerConfig struct {
	Enabled         bool
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// AuthSecret signs command tokens; empty leaves the API open
	AuthSecret string
	RateLimit  int
	RateBurst  int
}

// MetricsConfig holds prometheus exporter configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger tracing configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// WebhookConfig holds the completion webhook configuration
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// StateConfig holds persisted state document locations
type StateConfig struct {
	HistoryFile  string
	SettingsFile string
}

// SupportedLanguages are the content languages accepted by the backend
var SupportedLanguages = []string{"en", "es", "fr", "de", "ar", "hi"}

// Validation errors
var (
	ErrInvalidCourseID   = errors.New("course ID must be 24 hex characters")
	ErrVideoNameRequired = errors.New("video name is required")
	ErrVideoNameTooLong  = errors.New("video name must be at most 200 characters")
	ErrInvalidLanguage   = fmt.Errorf("language must be one of: %s", strings.Join(SupportedLanguages, ", "))
	ErrBackendMissing    = errors.New("upload enabled but backend not configured: set BACKEND_URL and AUTH_TOKEN")
)

var courseIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// Load reads configuration from file and environment variables. An empty
// path skips the file and uses defaults plus environment.
func Load(configPath string) (*Config, error) {
	v, err := NewViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadViper decodes configuration from an already populated viper instance
// (used by the CLI after binding flags)
func LoadViper(v *viper.Viper) (*Config, error) {
	return decode(v)
}

// NewViper returns a viper instance with defaults and env bindings applied
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	loadDotEnv(configPath)

	v.SetConfigType("yaml")
	v.SetEnvPrefix("HLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindLegacyEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper does not split comma lists coming from env or flags
	if len(config.Encode.Qualities) == 1 && strings.Contains(config.Encode.Qualities[0], ",") {
		config.Encode.Qualities = strings.Split(config.Encode.Qualities[0], ",")
	}
	config.Backend.URL = strings.TrimRight(config.Backend.URL, "/")

	return &config, nil
}

// loadDotEnv loads .env next to the config file and in the working directory.
// Existing environment variables win.
func loadDotEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// bindLegacyEnv keeps the un-prefixed variable names used by existing .env files
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("backend.url", "HLS_BACKEND_URL", "BACKEND_URL")
	_ = v.BindEnv("backend.authToken", "HLS_BACKEND_AUTHTOKEN", "AUTH_TOKEN")
	_ = v.BindEnv("backend.defaultLanguage", "HLS_BACKEND_DEFAULTLANGUAGE", "DEFAULT_LANGUAGE")
	_ = v.BindEnv("backend.presignExactEndpoint", "HLS_BACKEND_PRESIGNEXACTENDPOINT", "PRESIGN_EXACT_ENDPOINT")
	_ = v.BindEnv("backend.fileCreateEndpoint", "HLS_BACKEND_FILECREATEENDPOINT", "FILE_CREATE_ENDPOINT")
	_ = v.BindEnv("backend.authValidateEndpoint", "HLS_BACKEND_AUTHVALIDATEENDPOINT", "AUTH_VALIDATE_ENDPOINT")
}

func setDefaults(v *viper.Viper) {
	// Tool defaults
	v.SetDefault("tools.ffmpegPath", "ffmpeg")
	v.SetDefault("tools.ffprobePath", "ffprobe")
	v.SetDefault("tools.whisperPath", "whisper")

	// Encode defaults
	v.SetDefault("encode.outputDir", "hls_output")
	v.SetDefault("encode.qualities", []string{"1080p", "720p", "480p", "360p"})
	v.SetDefault("encode.backend", "cpu")
	v.SetDefault("encode.stallTimeout", "30s")
	v.SetDefault("encode.pollInterval", "50ms")

	// Transcription defaults
	v.SetDefault("transcription.enabled", false)
	v.SetDefault("transcription.language", "auto")
	v.SetDefault("transcription.model", "base")
	v.SetDefault("transcription.tickInterval", "300ms")

	// Backend defaults
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.authToken", "")
	v.SetDefault("backend.defaultLanguage", "en")
	v.SetDefault("backend.presignExactEndpoint", "/api/v1/admin/content/aws/uploadUrlExact")
	v.SetDefault("backend.fileCreateEndpoint", "/api/v1/admin/content/files")
	v.SetDefault("backend.authValidateEndpoint", "/api/v1/admin/auth/verify-admin")
	v.SetDefault("backend.timeout", "30s")
	v.SetDefault("backend.uploadTimeout", "300s")

	// Upload defaults
	v.SetDefault("upload.enabled", false)
	v.SetDefault("upload.language", "en")
	v.SetDefault("upload.deleteAfterUpload", false)
	v.SetDefault("upload.uploadedBy", "hlsconvert")
	v.SetDefault("upload.presigner", "backend")

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "videos")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.presignExpiry", "1h")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.authSecret", "")
	v.SetDefault("server.rateLimit", 10)
	v.SetDefault("server.rateBurst", 20)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9100)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "hlsconvert")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Webhook defaults
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	// State defaults
	v.SetDefault("state.historyFile", "output_history.json")
	v.SetDefault("state.settingsFile", "s3_config.json")
}

// IsConfigured reports whether the backend API can be used
func (b BackendConfig) IsConfigured() bool {
	return b.URL != "" && b.AuthToken != ""
}

// FullURL joins the backend base URL and an endpoint path. Absolute endpoint
// URLs are returned unchanged.
func (b BackendConfig) FullURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	base := strings.TrimRight(b.URL, "/")
	if base == "" {
		return ""
	}
	path := strings.TrimLeft(endpoint, "/")
	if path == "" {
		return base
	}
	return base + "/" + path
}

// ValidateUploadTarget checks the identifiers attached to an upload
func ValidateUploadTarget(courseID, videoName, language string) error {
	if !courseIDPattern.MatchString(strings.TrimSpace(courseID)) {
		return ErrInvalidCourseID
	}
	name := strings.TrimSpace(videoName)
	if name == "" {
		return ErrVideoNameRequired
	}
	if len([]rune(name)) > 200 {
		return ErrVideoNameTooLong
	}
	if !IsSupportedLanguage(language) {
		return ErrInvalidLanguage
	}
	return nil
}

// IsSupportedLanguage reports whether the backend accepts the language
func IsSupportedLanguage(language string) bool {
	lang := strings.TrimSpace(language)
	for _, l := range SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// Validate checks cross-field constraints before a run starts
func (c *Config) Validate() error {
	if len(c.Encode.Qualities) == 0 {
		return errors.New("select at least one quality")
	}
	if c.Upload.Enabled {
		// content records go through the backend with either presigner
		if !c.Backend.IsConfigured() {
			return ErrBackendMissing
		}
		if err := ValidateUploadTarget(c.Upload.CourseID, c.Upload.VideoName, c.Upload.Language); err != nil {
			return err
		}
	}
	return nil
}
