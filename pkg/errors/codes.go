// Package errors - error code definitions and domain constructors.
package errors

import "net/http"

// Configuration error codes. All of these are fatal at startup.
const (
	// CodeConfigInvalid is a generic invalid-configuration code
	CodeConfigInvalid = "ERR_CONFIG_INVALID"

	// CodeConfigEstimator indicates an unknown advantage estimator name
	CodeConfigEstimator = "ERR_CONFIG_ESTIMATOR"

	// CodeConfigFilterBounds indicates an empty accuracy filter interval
	CodeConfigFilterBounds = "ERR_CONFIG_FILTER_BOUNDS"

	// CodeConfigParallelism indicates inconsistent parallel degrees
	// versus the available device count
	CodeConfigParallelism = "ERR_CONFIG_PARALLELISM"

	// CodeConfigBatchSize indicates mini/micro batch sizes that do not
	// divide evenly across data-parallel replicas
	CodeConfigBatchSize = "ERR_CONFIG_BATCH_SIZE"

	// CodeConfigCriticRequired indicates the gae estimator was selected
	// without a critic collaborator
	CodeConfigCriticRequired = "ERR_CONFIG_CRITIC_REQUIRED"
)

// Per-trajectory data error codes. The trajectory is dropped, counted,
// and the step continues.
const (
	// CodeRewardLengthMismatch indicates the reward model emitted a
	// per-token series whose length does not match the response
	CodeRewardLengthMismatch = "ERR_DATA_REWARD_LENGTH"

	// CodeMissingVerifierLabel indicates a trajectory arrived unscored
	CodeMissingVerifierLabel = "ERR_DATA_MISSING_LABEL"

	// CodeMissingValues indicates the critic returned no value series
	// for a trajectory under the gae estimator
	CodeMissingValues = "ERR_DATA_MISSING_VALUES"
)

// Step error codes. The step aborts; no partial progress is allowed.
const (
	// CodeEmptyBatch indicates every trajectory in the step was dropped
	CodeEmptyBatch = "ERR_STEP_EMPTY_BATCH"

	// CodeShardFailure indicates a parallel-group shard failed mid-step
	CodeShardFailure = "ERR_STEP_SHARD_FAILURE"

	// CodeRewardModelUpdate indicates the reward model refresh failed
	CodeRewardModelUpdate = "ERR_STEP_RM_UPDATE"
)

const (
	// CodeCancelled indicates the run was stopped by request
	CodeCancelled = "ERR_CANCELLED"

	// CodeInternal is a generic internal error code
	CodeInternal = "ERR_INTERNAL"

	// CodeInfrastructure is a generic external collaborator error code
	CodeInfrastructure = "ERR_INFRASTRUCTURE"

	// CodeNotFound indicates a missing resource
	CodeNotFound = "ERR_NOT_FOUND"
)

// Common error constructors for frequent use cases

// ConfigError creates a startup configuration error
func ConfigError(code, message string) *AppError {
	return New(code, ErrorTypeConfig, message, http.StatusBadRequest)
}

// ConfigErrorf creates a startup configuration error with formatted message
func ConfigErrorf(code, format string, args ...interface{}) *AppError {
	return Newf(code, ErrorTypeConfig, http.StatusBadRequest, format, args...)
}

// DataError creates a per-trajectory data error
func DataError(code, message string) *AppError {
	return New(code, ErrorTypeData, message, http.StatusUnprocessableEntity)
}

// DataErrorf creates a per-trajectory data error with formatted message
func DataErrorf(code, format string, args ...interface{}) *AppError {
	return Newf(code, ErrorTypeData, http.StatusUnprocessableEntity, format, args...)
}

// StepError creates a step-fatal error
func StepError(code, message string) *AppError {
	return New(code, ErrorTypeStep, message, http.StatusInternalServerError)
}

// NotFoundError creates a not found error
func NotFoundError(resource string) *AppError {
	return Newf(CodeNotFound, ErrorTypeNotFound, http.StatusNotFound, "%s not found", resource)
}

// InternalError creates an internal error
func InternalError(message string) *AppError {
	return New(CodeInternal, ErrorTypeInternal, message, http.StatusInternalServerError)
}

// InfrastructureError creates an infrastructure error
func InfrastructureError(message string) *AppError {
	return New(CodeInfrastructure, ErrorTypeInfrastructure, message, http.StatusBadGateway)
}

// CancelledError creates a cancellation error
func CancelledError(message string) *AppError {
	return New(CodeCancelled, ErrorTypeCancelled, message, http.StatusConflict)
}
