package errdefs

import (
	"errors"
	"net/http"
)

// Sentinel errors for every caller-observable failure kind. Services wrap
// these with fmt.Errorf("...: %w", Err...) so callers can match with
// errors.Is while keeping context in the message.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrRateLimited     = errors.New("rate limited")
	ErrBadRequest      = errors.New("bad request")

	ErrModelNotFound      = errors.New("model not found")
	ErrModelAlreadyExists = errors.New("model already exists")
	ErrModelTooLarge      = errors.New("model too large")
	ErrInvalidModelData   = errors.New("invalid model data")
	ErrInvalidMetadata    = errors.New("invalid metadata")
	ErrIntegrityMismatch  = errors.New("integrity mismatch")

	ErrNoWorkersAvailable         = errors.New("no workers available")
	ErrNoWorkersMatchRequirements = errors.New("no workers match requirements")

	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrModelNotAvailable = errors.New("model not available")

	ErrInferenceTimeout = errors.New("inference timeout")
	ErrExecutionError   = errors.New("execution error")

	ErrTransportError = errors.New("transport error")
	ErrUnavailable    = errors.New("unavailable")

	ErrWorkerExists   = errors.New("worker already registered")
	ErrWorkerNotFound = errors.New("worker not found")
)

// codes maps each kind to its stable wire identifier.
var codes = map[error]string{
	ErrUnauthenticated:            "Unauthenticated",
	ErrForbidden:                  "Forbidden",
	ErrRateLimited:                "RateLimited",
	ErrBadRequest:                 "BadRequest",
	ErrModelNotFound:              "ModelNotFound",
	ErrModelAlreadyExists:         "ModelAlreadyExists",
	ErrModelTooLarge:              "ModelTooLarge",
	ErrInvalidModelData:           "InvalidModelData",
	ErrInvalidMetadata:            "InvalidMetadata",
	ErrIntegrityMismatch:          "IntegrityMismatch",
	ErrNoWorkersAvailable:         "NoWorkersAvailable",
	ErrNoWorkersMatchRequirements: "NoWorkersMatchRequirements",
	ErrCapacityExceeded:           "CapacityExceeded",
	ErrModelNotAvailable:          "ModelNotAvailable",
	ErrInferenceTimeout:           "InferenceTimeout",
	ErrExecutionError:             "ExecutionError",
	ErrTransportError:             "TransportError",
	ErrUnavailable:                "Unavailable",
	ErrWorkerExists:               "WorkerExists",
	ErrWorkerNotFound:             "WorkerNotFound",
}

// statuses maps each kind to the HTTP status surfaced at a service edge.
var statuses = map[error]int{
	ErrUnauthenticated:            http.StatusUnauthorized,
	ErrForbidden:                  http.StatusForbidden,
	ErrRateLimited:                http.StatusTooManyRequests,
	ErrBadRequest:                 http.StatusBadRequest,
	ErrModelNotFound:              http.StatusNotFound,
	ErrModelAlreadyExists:         http.StatusConflict,
	ErrModelTooLarge:              http.StatusRequestEntityTooLarge,
	ErrInvalidModelData:           http.StatusBadRequest,
	ErrInvalidMetadata:            http.StatusBadRequest,
	ErrIntegrityMismatch:          http.StatusInternalServerError,
	ErrNoWorkersAvailable:         http.StatusServiceUnavailable,
	ErrNoWorkersMatchRequirements: http.StatusServiceUnavailable,
	ErrCapacityExceeded:           http.StatusInternalServerError,
	ErrModelNotAvailable:          http.StatusInternalServerError,
	ErrInferenceTimeout:           http.StatusGatewayTimeout,
	ErrExecutionError:             http.StatusInternalServerError,
	ErrTransportError:             http.StatusBadGateway,
	ErrUnavailable:                http.StatusServiceUnavailable,
	ErrWorkerExists:               http.StatusConflict,
	ErrWorkerNotFound:             http.StatusNotFound,
}

// Code returns the stable identifier for the error's kind, or
// "InternalError" when the error matches no known kind.
func Code(err error) string {
	for kind, code := range codes {
		if errors.Is(err, kind) {
			return code
		}
	}
	return "InternalError"
}

// HTTPStatus returns the HTTP status code for the error's kind, or 500 when
// the error matches no known kind.
func HTTPStatus(err error) int {
	for kind, status := range statuses {
		if errors.Is(err, kind) {
			return status
		}
	}
	return http.StatusInternalServerError
}

// FromCode resolves a wire identifier back to its sentinel, so an error kind
// survives an HTTP hop. Unknown codes return nil.
func FromCode(code string) error {
	for kind, c := range codes {
		if c == code {
			return kind
		}
	}
	return nil
}
