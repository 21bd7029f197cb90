package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrAlreadyRunning ErrorCode = "already_running"

	// Application errors
	ErrInitApp        ErrorCode = "init_app_failed"
	ErrMainLoop       ErrorCode = "main_loop_failed"
	ErrStartSource    ErrorCode = "start_source_failed"
	ErrRestartSource  ErrorCode = "restart_source_failed"
	ErrShutdownSource ErrorCode = "shutdown_source_failed"

	// Operation errors
	ErrTimeout ErrorCode = "operation_timeout"

	// Telemetry errors
	ErrInitTelemetry   ErrorCode = "init_telemetry_failed"
	ErrRecordTelemetry ErrorCode = "record_telemetry_failed"
	ErrCloseTelemetry  ErrorCode = "close_telemetry_failed"
	ErrInitMetrics     ErrorCode = "init_metrics_failed"
	ErrServeMetrics    ErrorCode = "serve_metrics_failed"
	ErrShutdownMetrics ErrorCode = "shutdown_metrics_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:        "Internal error occurred",
	ErrInvalidArgument: "Invalid argument provided",
	ErrInvalidConfig:   "Invalid configuration",
	ErrMissingConfig:   "Missing configuration",
	ErrBindFlags:       "Failed to bind flags",
	ErrReadConfig:      "Failed to read configuration",
	ErrInvalidInterval: "Invalid interval value",
	ErrInvalidLogLevel: "Invalid log level",
	ErrAlreadyRunning:  "Already running",
	ErrInitApp:         "Failed to initialize application",
	ErrMainLoop:        "Error in main loop",
	ErrStartSource:     "Failed to start acquisition source",
	ErrRestartSource:   "Failed to restart acquisition source",
	ErrShutdownSource:  "Failed to shut down acquisition source",
	ErrTimeout:         "Operation timed out",
	ErrInitTelemetry:   "Failed to initialize telemetry",
	ErrRecordTelemetry: "Failed to record telemetry",
	ErrCloseTelemetry:  "Failed to close telemetry storage",
	ErrInitMetrics:     "Failed to initialize metrics",
	ErrServeMetrics:    "Failed to serve metrics",
	ErrShutdownMetrics: "Failed to shut down metrics server",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
