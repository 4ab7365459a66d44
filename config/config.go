// Package config provides configuration management for hmem.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for hmem.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Memory tunes the memory engine.
	Memory MemoryConfig `mapstructure:"memory"`

	// Storage is the persistence configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Vector is the knowledge mirror configuration.
	Vector VectorConfig `mapstructure:"vector"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// MemoryConfig tunes the working, episodic and semantic tiers and the
// consolidation schedule.
type MemoryConfig struct {
	// WorkingCapacity is the maximum number of working memory items.
	WorkingCapacity int `mapstructure:"working_capacity" validate:"min=1"`

	// MinEpisodes is the smallest category group a consolidation pass mines.
	MinEpisodes int `mapstructure:"min_episodes" validate:"min=1"`

	// PruneMaxAgeHours is the age beyond which faded, unreviewed episodes
	// are pruned.
	PruneMaxAgeHours float64 `mapstructure:"prune_max_age_hours" validate:"gt=0"`

	// ConsolidationInterval schedules background consolidation. Zero
	// disables the loop.
	ConsolidationInterval time.Duration `mapstructure:"consolidation_interval" validate:"min=0"`

	// SaveOnStop persists both stores when the engine stops.
	SaveOnStop bool `mapstructure:"save_on_stop"`

	// SemanticContextLimit caps knowledge records in a memory context.
	SemanticContextLimit int `mapstructure:"semantic_context_limit" validate:"min=1"`

	// EpisodicContextLimit caps episodes in a memory context.
	EpisodicContextLimit int `mapstructure:"episodic_context_limit" validate:"min=1"`

	// WorkingContextLimit caps working items in a memory context.
	WorkingContextLimit int `mapstructure:"working_context_limit" validate:"min=1"`

	// ContextMinImportance filters episodes in a memory context.
	ContextMinImportance float64 `mapstructure:"context_min_importance" validate:"min=0,max=1"`

	// BM25 tunes the free-text fallback over knowledge.
	BM25 BM25Config `mapstructure:"bm25"`
}

// BM25Config holds BM25 scoring parameters.
type BM25Config struct {
	// K1 controls term frequency saturation.
	K1 float64 `mapstructure:"k1" validate:"gt=0"`

	// B controls document length normalization.
	B float64 `mapstructure:"b" validate:"min=0,max=1"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger, redis).
	Type string `mapstructure:"type" validate:"oneof=memory badger redis"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`

	// Redis is the Redis configuration.
	Redis RedisConfig `mapstructure:"redis"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// KeyPrefix namespaces every key written by hmem.
	KeyPrefix string `mapstructure:"key_prefix"`

	// DialTimeout bounds connection setup.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// VectorConfig selects and tunes the knowledge mirror.
type VectorConfig struct {
	// Type is the mirror backend (none, flat, chromem, qdrant).
	Type string `mapstructure:"type" validate:"oneof=none flat chromem qdrant"`

	// Dimension is the embedding size of the hashing embedder.
	Dimension int `mapstructure:"dimension" validate:"min=8"`

	// Collection is the collection name in the vector store.
	Collection string `mapstructure:"collection" validate:"required"`

	// Flat is the in-process brute-force index configuration.
	Flat FlatConfig `mapstructure:"flat"`

	// Chromem is the embedded chromem-go configuration.
	Chromem ChromemConfig `mapstructure:"chromem"`

	// Qdrant is the Qdrant client configuration.
	Qdrant QdrantConfig `mapstructure:"qdrant"`

	// Mirror tunes the asynchronous dispatcher.
	Mirror MirrorConfig `mapstructure:"mirror"`
}

// FlatConfig holds settings of the in-process index.
type FlatConfig struct {
	// Path is the snapshot file written on close. Empty disables it.
	Path string `mapstructure:"path"`
}

// ChromemConfig holds chromem-go settings.
type ChromemConfig struct {
	// Path persists the database to disk. Empty keeps it in memory.
	Path string `mapstructure:"path"`

	// Compress gzips the persisted files.
	Compress bool `mapstructure:"compress"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	// Host is the Qdrant gRPC host.
	Host string `mapstructure:"host"`

	// Port is the Qdrant gRPC port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`

	// APIKey authenticates against Qdrant Cloud.
	APIKey string `mapstructure:"api_key"`

	// UseTLS enables TLS on the gRPC connection.
	UseTLS bool `mapstructure:"use_tls"`
}

// MirrorConfig tunes the mirror dispatcher.
type MirrorConfig struct {
	// QueueSize bounds pending mirror jobs. Jobs beyond it are dropped.
	QueueSize int `mapstructure:"queue_size" validate:"min=1"`

	// RatePerSec limits mirror calls per second. Zero disables limiting.
	RatePerSec float64 `mapstructure:"rate_per_sec" validate:"min=0"`

	// Burst is the limiter burst size.
	Burst int `mapstructure:"burst" validate:"min=1"`

	// Timeout bounds a single mirror call.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter (otlpgrpc).
	Exporter string `mapstructure:"exporter" validate:"oneof=otlpgrpc"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `mapstructure:"insecure"`

	// Timeout bounds exporter calls.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are sent with every export request.
	Headers map[string]string `mapstructure:"headers"`

	// Sampler selects the sampling strategy
	// (always_on, always_off, traceidratio, parentbased_traceidratio).
	Sampler string `mapstructure:"sampler" validate:"oneof=always_on always_off traceidratio parentbased_traceidratio"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Env: %s, Storage: %s, Vector: %s}",
		c.App.Name, c.App.Environment, c.Storage.Type, c.Vector.Type)
}
