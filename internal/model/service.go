package model

import "time"

// StoreConfig holds the connection settings for the assignment store.
type StoreConfig struct {
	Driver string `json:"driver"` // sqlite, postgres, mysql, sqlserver
	DSN    string `json:"dsn,omitempty"`
	// DataDir is used by the sqlite driver when DSN is empty. An empty
	// DataDir and DSN selects an in-memory database.
	DataDir string     `json:"data_dir,omitempty"`
	Pool    PoolConfig `json:"pool"`
}

// PoolConfig controls the database connection pool behavior for the store.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultPoolConfig returns sensible defaults for a database connection pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}
