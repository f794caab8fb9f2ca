package storage

import "time"

// PostgresConfig describes how the repository initialises its Postgres
// connection pool and integrates with the delivery-tier object store when
// purging failed records.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
	ObjectStorage       ObjectStorageConfig
	Clock               func() time.Time
}

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{
		DSN:   dsn,
		Clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyPostgres(&cfg)
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	cfg.ObjectStorage = applyObjectStorageDefaults(cfg.ObjectStorage)
	return cfg
}
