package telemetry

import "codeberg.org/mutker/racedash/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("telemetry_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("telemetry_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("telemetry_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("telemetry_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitTelemetry
	ErrStorageQuery = errors.ErrorCode("telemetry_storage_query_failed")
	ErrStorageClose = errors.ErrCloseTelemetry

	// Recording Errors
	ErrRecord           = errors.ErrRecordTelemetry
	ErrOperationTimeout = errors.ErrTimeout
)
