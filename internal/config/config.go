// Package config loads the server configuration from the environment.
//
// Sources, lowest priority first:
//  1. defaults declared in the envDefault struct tags below
//  2. a .env file in the working directory (if present)
//  3. real environment variables
//
// The result is validated before it is handed to the composition root, so a
// typo in CLASSIFIER_URL fails at startup rather than on the first upload.
package config

import (
	"fmt"
	"os"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Auth modes.
const (
	AuthModeSingle = "single" // one bearer token per login
	AuthModePair   = "pair"   // short-lived access token + long-lived refresh token
)

// Storage backends for uploaded images.
const (
	StorageDisk = "disk"
	StorageS3   = "s3"
)

// Config holds every setting the server needs. Nothing in the codebase reads
// os.Getenv directly; it all flows through this struct.
type Config struct {
	Port int `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`

	// Persistence. When DatabaseDSN is set the Postgres backend is used and
	// DBPath is ignored.
	DBPath      string `env:"DB_PATH" envDefault:"data/plantdoc.db"`
	DatabaseDSN string `env:"DATABASE_DSN"`

	JWTSecret       string        `env:"JWT_SECRET" validate:"required,min=16"`
	AuthMode        string        `env:"AUTH_MODE" envDefault:"single" validate:"oneof=single pair"`
	TokenTTL        time.Duration `env:"TOKEN_TTL" envDefault:"1h" validate:"gt=0"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m" validate:"gt=0"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h" validate:"gt=0"`
	BcryptCost      int           `env:"BCRYPT_COST" envDefault:"12" validate:"min=4,max=31"`

	ClassifierURL      string        `env:"CLASSIFIER_URL" validate:"required,url"`
	ClassifierTimeout  time.Duration `env:"CLASSIFIER_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	RecommenderURL     string        `env:"RECOMMENDER_URL" validate:"required,url"`
	RecommenderTimeout time.Duration `env:"RECOMMENDER_TIMEOUT" envDefault:"5s" validate:"gt=0"`

	// Optional credentials attached to calls to the classifier and advisor.
	UpstreamTokenURL     string   `env:"UPSTREAM_TOKEN_URL" validate:"omitempty,url"`
	UpstreamClientID     string   `env:"UPSTREAM_CLIENT_ID" validate:"required_with=UpstreamTokenURL"`
	UpstreamClientSecret string   `env:"UPSTREAM_CLIENT_SECRET"`
	UpstreamScopes       []string `env:"UPSTREAM_SCOPES" envSeparator:","`
	UpstreamAPIToken     string   `env:"UPSTREAM_API_TOKEN"`

	NormalizeImages   bool  `env:"NORMALIZE_IMAGES" envDefault:"true"`
	MaxImageDimension int   `env:"MAX_IMAGE_DIMENSION" envDefault:"800" validate:"min=16"`
	ThumbnailSize     int   `env:"THUMBNAIL_SIZE" envDefault:"200" validate:"min=16"`
	JPEGQuality       int   `env:"JPEG_QUALITY" envDefault:"80" validate:"min=1,max=100"`
	MaxInputPixels    int   `env:"MAX_INPUT_PIXELS" envDefault:"40000000" validate:"min=1"`
	MaxUploadBytes    int64 `env:"MAX_UPLOAD_BYTES" envDefault:"10485760" validate:"min=1"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"disk" validate:"oneof=disk s3"`
	UploadDir      string `env:"UPLOAD_DIR" envDefault:"uploads"`
	S3Bucket       string `env:"S3_BUCKET" validate:"required_if=StorageBackend s3"`
	S3Region       string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint     string `env:"S3_ENDPOINT" validate:"omitempty,url"`
	S3AccessKey    string `env:"S3_ACCESS_KEY"`
	S3SecretKey    string `env:"S3_SECRET_KEY"`

	CORSOrigins      []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	HistoryQueueSize int      `env:"HISTORY_QUEUE_SIZE" envDefault:"64" validate:"min=1"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"loglevel"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
}

// LoadOption tweaks how Load behaves. Tests use it to skip the .env file.
type LoadOption func(*loadOptions)

type loadOptions struct {
	dotenvFiles []string
}

// WithDotenvFiles overrides which dotenv files are read. Passing no names
// disables dotenv loading entirely.
func WithDotenvFiles(names ...string) LoadOption {
	return func(o *loadOptions) {
		o.dotenvFiles = names
	}
}

// Load reads, defaults and validates the configuration.
func Load(opts ...LoadOption) (*Config, error) {
	options := &loadOptions{dotenvFiles: []string{".env"}}
	for _, opt := range opts {
		opt(options)
	}

	for _, name := range options.dotenvFiles {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		// godotenv.Load never overrides variables that are already set,
		// so the real environment wins over the file.
		if err := godotenv.Load(name); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", name, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every field against its validate tag.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("loglevel", validateLogLevel); err != nil {
		return fmt.Errorf("config: registering validators: %w", err)
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	return nil
}

// UsePostgres reports whether the Postgres backend is configured.
func (c *Config) UsePostgres() bool {
	return c.DatabaseDSN != ""
}

// TokenPairs reports whether login issues an access/refresh pair.
func (c *Config) TokenPairs() bool {
	return c.AuthMode == AuthModePair
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func validateLogLevel(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
