package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "hmem",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Memory: DefaultMemoryConfig(),
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:              "./data/badger",
				SyncWrites:        true,
				ValueLogFileSize:  1 << 28, // 256MB
				NumVersionsToKeep: 1,
			},
			Redis: RedisConfig{
				Address:     "localhost:6379",
				Password:    "",
				DB:          0,
				KeyPrefix:   "hmem",
				DialTimeout: 5 * time.Second,
			},
		},
		Vector: VectorConfig{
			Type:       "none",
			Dimension:  256,
			Collection: "hmem_knowledge",
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
			Mirror: MirrorConfig{
				QueueSize:  256,
				RatePerSec: 20,
				Burst:      5,
				Timeout:    5 * time.Second,
			},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "hmem",
			Path:      "/metrics",
			Port:      9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlpgrpc",
			Endpoint:   "localhost:4317",
			Insecure:   true,
			Timeout:    10 * time.Second,
			Sampler:    "parentbased_traceidratio",
			SampleRate: 0.1,
		},
	}
}

// DefaultMemoryConfig returns the memory engine defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		WorkingCapacity:       100,
		MinEpisodes:           3,
		PruneMaxAgeHours:      168,
		ConsolidationInterval: 0,
		SaveOnStop:            true,
		SemanticContextLimit:  5,
		EpisodicContextLimit:  10,
		WorkingContextLimit:   10,
		ContextMinImportance:  0.5,
		BM25: BM25Config{
			K1: 1.5,
			B:  0.75,
		},
	}
}
