// Package config handles loading and validation of notion-mirror configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied to unset tunables.
const (
	DefaultStorePath         = "data/mirror.db"
	DefaultMaxChildPages     = 10
	DefaultChildConcurrency  = 2
	DefaultWalkerBatchSize   = 4
	DefaultMaxDepth          = 4
	DefaultMaxItems          = 500
	DefaultRateLimitBackoff  = 1500 * time.Millisecond
	DefaultRequestsPerSecond = 3.0
	DefaultMediaDir          = "public/media"
	DefaultMediaBaseURL      = "/media"
	DefaultShadowBaseURL     = "https://www.notion.so/api/v3"
	DefaultServerAddr        = ":8080"
)

// Media providers.
const (
	ProviderDir        = "dir"
	ProviderCloudinary = "cloudinary"
)

// Root is a Notion page mirrored under a fixed slug.
type Root struct {
	Slug  string `yaml:"slug"`
	URL   string `yaml:"url"`
	Title string `yaml:"title,omitempty"`
}

// SyncConfig controls what is synced and how far the pipeline recurses.
type SyncConfig struct {
	Roots []Root `yaml:"roots,omitempty"`

	// PostsDatabase is the URL or id of the database whose rows form the
	// posts index.
	PostsDatabase string `yaml:"posts_database,omitempty"`

	MaxChildPages    int           `yaml:"max_child_pages,omitempty"`
	ChildConcurrency int           `yaml:"child_concurrency,omitempty"`
	WalkerBatchSize  int           `yaml:"walker_batch_size,omitempty"`
	MaxDepth         int           `yaml:"max_depth,omitempty"`
	MaxItems         int           `yaml:"max_items,omitempty"`
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff,omitempty"`

	// RequestsPerSecond caps the average rate of Notion API calls.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// StoreConfig specifies where the content store lives.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MediaConfig selects where mirrored media is uploaded.
type MediaConfig struct {
	Provider string `yaml:"provider"`
	Dir      string `yaml:"dir,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	Folder   string `yaml:"folder,omitempty"`
}

// InvalidationConfig specifies where cache invalidation signals are sent.
// Signals are only logged when WebhookURL is empty.
type InvalidationConfig struct {
	WebhookURL string `yaml:"webhook_url,omitempty"`
}

// NotifyConfig specifies where failed triggered runs are reported.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url,omitempty"`
}

// ShadowConfig controls the record-map side channel used for layout hints.
type ShadowConfig struct {
	// Enabled defaults to true. Without NOTION_TOKEN_V2 only pages that
	// are public on the web can be read.
	Enabled *bool  `yaml:"enabled"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// ShouldFetch returns whether record maps should be fetched.
// Defaults to true if not explicitly set.
func (s *ShadowConfig) ShouldFetch() bool {
	if s.Enabled == nil {
		return true
	}
	return *s.Enabled
}

// ServerConfig configures the trigger endpoint.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the top-level configuration structure.
type Config struct {
	Sync         SyncConfig         `yaml:"sync"`
	Store        StoreConfig        `yaml:"store"`
	Media        MediaConfig        `yaml:"media"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
	Notify       NotifyConfig       `yaml:"notify"`
	Shadow       ShadowConfig       `yaml:"shadow"`
	Server       ServerConfig       `yaml:"server"`

	// Secrets are loaded from environment, not from config file.
	NotionToken         string `yaml:"-"`
	NotionTokenV2       string `yaml:"-"`
	TriggerToken        string `yaml:"-"`
	RevalidateSecret    string `yaml:"-"`
	CloudinaryCloudName string `yaml:"-"`
	CloudinaryAPIKey    string `yaml:"-"`
	CloudinaryAPISecret string `yaml:"-"`
}

// Load reads configuration from a YAML file and environment variables.
// Secrets are loaded from environment only (not from config file).
// If a .env file exists in the current directory, it will be loaded first.
func Load(path string) (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.loadEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) loadEnv() {
	c.NotionToken = os.Getenv("NOTION_TOKEN")
	c.NotionTokenV2 = os.Getenv("NOTION_TOKEN_V2")
	c.TriggerToken = os.Getenv("MIRROR_TRIGGER_TOKEN")
	c.RevalidateSecret = os.Getenv("REVALIDATE_SECRET")
	c.CloudinaryCloudName = os.Getenv("CLOUDINARY_CLOUD_NAME")
	c.CloudinaryAPIKey = os.Getenv("CLOUDINARY_API_KEY")
	c.CloudinaryAPISecret = os.Getenv("CLOUDINARY_API_SECRET")
}

func (c *Config) applyDefaults() {
	s := &c.Sync
	if s.MaxChildPages == 0 {
		s.MaxChildPages = DefaultMaxChildPages
	}
	if s.ChildConcurrency == 0 {
		s.ChildConcurrency = DefaultChildConcurrency
	}
	if s.WalkerBatchSize == 0 {
		s.WalkerBatchSize = DefaultWalkerBatchSize
	}
	if s.MaxDepth == 0 {
		s.MaxDepth = DefaultMaxDepth
	}
	if s.MaxItems == 0 {
		s.MaxItems = DefaultMaxItems
	}
	if s.RateLimitBackoff == 0 {
		s.RateLimitBackoff = DefaultRateLimitBackoff
	}
	if s.RequestsPerSecond == 0 {
		s.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Media.Provider == "" {
		c.Media.Provider = ProviderDir
	}
	if c.Media.Provider == ProviderDir {
		if c.Media.Dir == "" {
			c.Media.Dir = DefaultMediaDir
		}
		if c.Media.BaseURL == "" {
			c.Media.BaseURL = DefaultMediaBaseURL
		}
	}
	if c.Shadow.BaseURL == "" {
		c.Shadow.BaseURL = DefaultShadowBaseURL
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
}

// Validate checks that the configuration has all required fields.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Sync.Roots) == 0 && c.Sync.PostsDatabase == "" {
		errs = append(errs, errors.New("either sync.roots or sync.posts_database is required"))
	}

	seen := make(map[string]int)
	for i, root := range c.Sync.Roots {
		if root.Slug == "" {
			errs = append(errs, fmt.Errorf("root %d: slug is required", i+1))
		} else if prev, ok := seen[root.Slug]; ok {
			errs = append(errs, fmt.Errorf("root %d: slug %q already used by root %d", i+1, root.Slug, prev))
		} else {
			seen[root.Slug] = i + 1
		}
		if root.URL == "" {
			errs = append(errs, fmt.Errorf("root %d: url is required", i+1))
		}
	}

	if c.Sync.MaxChildPages < 0 || c.Sync.ChildConcurrency < 0 || c.Sync.WalkerBatchSize < 0 ||
		c.Sync.MaxDepth < 0 || c.Sync.MaxItems < 0 || c.Sync.RateLimitBackoff < 0 || c.Sync.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("sync limits must not be negative"))
	}

	switch c.Media.Provider {
	case ProviderDir:
		if c.Media.Dir == "" {
			errs = append(errs, errors.New("media.dir is required for the dir provider"))
		}
	case ProviderCloudinary:
		if c.CloudinaryCloudName == "" || c.CloudinaryAPIKey == "" || c.CloudinaryAPISecret == "" {
			errs = append(errs, errors.New("CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET are required for the cloudinary provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("media.provider %q is not one of %q, %q", c.Media.Provider, ProviderDir, ProviderCloudinary))
	}

	if c.NotionToken == "" {
		errs = append(errs, errors.New("NOTION_TOKEN environment variable is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidateServer checks the settings the trigger endpoint needs on top of
// Validate.
func (c *Config) ValidateServer() error {
	if c.TriggerToken == "" {
		return errors.New("MIRROR_TRIGGER_TOKEN environment variable is required to serve")
	}
	return nil
}
