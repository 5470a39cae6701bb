package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for the belief-graph engine.
type Config struct {
	// Deployment mode: "server", "mcp", "sweeper".
	Mode string `yaml:"mode"`

	Storage    StorageConfig    `yaml:"storage"`
	VectorDB   VectorDBConfig   `yaml:"vectordb"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Arbiter    ArbiterConfig    `yaml:"arbiter"`
	Cache      CacheConfig      `yaml:"cache"`
	API        APIConfig        `yaml:"api"`
	Exposure   ExposureConfig   `yaml:"exposure"`
	Shock      ShockConfig      `yaml:"shock"`
	Propagator PropagatorConfig `yaml:"propagator"`
	Zone       ZoneConfig       `yaml:"zone"`
	Events     EventsConfig     `yaml:"events"`
}

type StorageConfig struct {
	Type        string `yaml:"type"` // "postgres", "sqlite"
	PostgresDSN string `yaml:"postgres_dsn"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type VectorDBConfig struct {
	Addr             string `yaml:"addr"`
	ContentCollection      string `yaml:"content_collection"`
	InvalidatesCollection  string `yaml:"invalidates_collection"`
	ConfirmsCollection     string `yaml:"confirms_collection"`
	VectorSize       int    `yaml:"vector_size"`
}

type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "openai", "gemini"
	Model    string `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ArbiterConfig struct {
	Provider    string        `yaml:"provider"` // "openai", "gemini"
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
}

type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

type APIConfig struct {
	OpenAIKey   string `yaml:"openai_key"`
	GeminiKey   string `yaml:"gemini_key"`
	UseKeychain bool   `yaml:"use_keychain"`
}

// ExposureConfig holds settings for C4, the exposure checker. Only
// TopKPerCondition reaches the checker; its match threshold is a constant
// in the exposure package, and MinSimilarity is validated but not read.
type ExposureConfig struct {
	TopKPerCondition int     `yaml:"top_k_per_condition"`
	MinSimilarity    float64 `yaml:"min_similarity"`
}

// ShockConfig holds settings for C5, the local shock propagator. The
// propagator does not read them: its depth, decay and guard values are
// constants in the shock package.
type ShockConfig struct {
	MaxHops         int     `yaml:"max_hops"`
	DecayFactor     float64 `yaml:"decay_factor"`
	SpectralGuard   float64 `yaml:"spectral_guard"`
}

// PropagatorConfig holds settings for C6, the full-graph damped
// fixed-point iterator. Only Interval is read, by cmd/memory-sweeper as the
// pass schedule; damping, iteration cap and convergence threshold are
// constants in the propagation package.
type PropagatorConfig struct {
	Damping       float64       `yaml:"damping"`
	MaxIterations int           `yaml:"max_iterations"`
	Convergence   float64       `yaml:"convergence"`
	Interval      time.Duration `yaml:"interval"`
}

// ZoneConfig holds settings for C7, the reasoning-zone builder. The zone
// builder does not read MinStrength.
type ZoneConfig struct {
	MinStrength float64 `yaml:"min_strength"`
}

// EventsConfig tunes C8, the event queue and session dispatcher.
type EventsConfig struct {
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	ClaimGracePeriod   time.Duration `yaml:"claim_grace_period"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

// Default returns a sensible default configuration for local development.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Mode: "server",
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLitePath: filepath.Join(homeDir, ".memory-engine", "local.db"),
		},
		VectorDB: VectorDBConfig{
			Addr:                  "localhost:6334",
			ContentCollection:     "memory_content",
			InvalidatesCollection: "memory_invalidates_if",
			ConfirmsCollection:    "memory_confirms_if",
			VectorSize:            1536,
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
			Timeout:  5 * time.Second,
		},
		Arbiter: ArbiterConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			Timeout:   20 * time.Second,
			MaxTokens: 1024,
		},
		Cache: CacheConfig{
			RedisAddr: "localhost:6379",
			TTL:       10 * time.Minute,
		},
		Exposure: ExposureConfig{
			TopKPerCondition: 5,
			MinSimilarity:    0.75,
		},
		Shock: ShockConfig{
			MaxHops:       3,
			DecayFactor:   0.5,
			SpectralGuard: 0.95,
		},
		Propagator: PropagatorConfig{
			Damping:       0.85,
			MaxIterations: 50,
			Convergence:   1e-4,
			Interval:      24 * time.Hour,
		},
		Zone: ZoneConfig{
			MinStrength: 0.3,
		},
		Events: EventsConfig{
			SessionIdleTimeout: 2 * time.Minute,
			ClaimGracePeriod:   5 * time.Minute,
			SweepInterval:      30 * time.Second,
		},
	}
}

// Load loads configuration from path (or the default search paths) over
// the built-in defaults, then applies the unprefixed environment
// overrides in applyEnvOverrides, which take precedence over the file.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("vectordb", cfg.VectorDB)
	v.SetDefault("embedding", cfg.Embedding)
	v.SetDefault("arbiter", cfg.Arbiter)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("exposure", cfg.Exposure)
	v.SetDefault("shock", cfg.Shock)
	v.SetDefault("propagator", cfg.Propagator)
	v.SetDefault("zone", cfg.Zone)
	v.SetDefault("events", cfg.Events)

	v.SetEnvPrefix("MEMORY")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".memory-engine")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".memory-engine"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadEnvFiles() {
	envFiles := []string{".env.local", ".env", ".env.example"}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			if err := godotenv.Load(file); err == nil {
				continue
			}
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".memory-engine", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

func applyEnvOverrides(cfg *Config) {
	if storageType := os.Getenv("STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" {
		cfg.Storage.SQLitePath = expandPath(path)
	}

	if addr := os.Getenv("QDRANT_ADDR"); addr != "" {
		cfg.VectorDB.Addr = addr
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.API.OpenAIKey = key
	} else {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if keychainKey, err := km.GetAPIKey(); err == nil && keychainKey != "" {
				cfg.API.OpenAIKey = keychainKey
			}
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.API.GeminiKey = key
	}

	if provider := os.Getenv("EMBEDDING_PROVIDER"); provider != "" {
		cfg.Embedding.Provider = provider
	}
	if provider := os.Getenv("ARBITER_PROVIDER"); provider != "" {
		cfg.Arbiter.Provider = provider
	}

	if interval := os.Getenv("PROPAGATOR_INTERVAL_MINUTES"); interval != "" {
		if minutes, err := strconv.Atoi(interval); err == nil {
			cfg.Propagator.Interval = time.Duration(minutes) * time.Minute
		}
	}

	if mode := os.Getenv("MEMORY_ENGINE_MODE"); mode != "" {
		cfg.Mode = mode
	}
}

func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save writes the configuration to path in YAML form.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("mode", c.Mode)
	v.Set("storage", c.Storage)
	v.Set("vectordb", c.VectorDB)
	v.Set("embedding", c.Embedding)
	v.Set("arbiter", c.Arbiter)
	v.Set("cache", c.Cache)
	v.Set("api", c.API)
	v.Set("exposure", c.Exposure)
	v.Set("shock", c.Shock)
	v.Set("propagator", c.Propagator)
	v.Set("zone", c.Zone)
	v.Set("events", c.Events)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
