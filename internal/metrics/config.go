package metrics

import "codeberg.org/mutker/pvdash/internal/errors"

const (
	// File system permissions and paths
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/pvdash/metrics.db"
	defaultBatchSize    = 20
	defaultBatchTimeout = 60
)

type Config struct {
	DBPath  string
	Enabled bool
	// BatchSize is the number of buffered snapshots that triggers a flush.
	// Values below 2 write every snapshot immediately.
	BatchSize int
	// BatchTimeout is the periodic flush interval in seconds. Zero disables
	// the background flusher.
	BatchTimeout int
	// BackupDir receives a copy of the database before a schema rebuild.
	// Empty means a "backups" directory next to DBPath.
	BackupDir string
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		Enabled:      false, // Disabled by default
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if metrics is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize    int
			BatchTimeout int
		}{
			BatchSize:    c.BatchSize,
			BatchTimeout: c.BatchTimeout,
		})
	}
	return nil
}
