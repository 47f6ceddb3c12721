package metrics

import "codeberg.org/mutker/pvdash/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("metrics_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("metrics_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("metrics_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("metrics_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("metrics_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed

	// Service Errors
	ErrServiceShutdown = errors.ErrCloseMetrics

	// Collection Errors
	ErrMetricsCollection = errors.ErrCollectMetrics
	ErrInvalidMetrics    = errors.ErrorCode("metrics_invalid_snapshot")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrInvalidDBPath:          "Metrics database path is required",
		ErrSchemaInitFailed:       "Failed to initialize metrics schema",
		ErrSchemaValidationFailed: "Failed to validate metrics schema",
		ErrSchemaMigrationFailed:  "Failed to migrate metrics schema",
		ErrTransactionFailed:      "Metrics transaction failed",
		ErrInvalidMetrics:         "Invalid cycle snapshot",
	})
}
