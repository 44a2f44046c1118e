package errors

import (
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

func newErr(service, category, sequence int, httpStatus int, grpcCode codes.Code, en, zh string) *Errno {
	if service < 0 || service > 99 || category < 0 || category > 99 || sequence < 0 || sequence > 999 {
		panic(fmt.Sprintf("errors: code parts out of range: %d/%d/%d", service, category, sequence))
	}
	if en == "" {
		panic("errors: english message is required")
	}
	return Register(New(MakeCode(service, category, sequence), httpStatus, grpcCode, en, zh))
}

// NewRequestErr creates and registers a request/validation error (HTTP 400).
func NewRequestErr(service, sequence int, en, zh string) *Errno {
	return newErr(service, CategoryRequest, sequence, http.StatusBadRequest, codes.InvalidArgument, en, zh)
}

// NewNotFoundErr creates and registers a resource not found error (HTTP 404).
func NewNotFoundErr(service, sequence int, en, zh string) *Errno {
	return newErr(service, CategoryResource, sequence, http.StatusNotFound, codes.NotFound, en, zh)
}

// NewConflictErr creates and registers a conflict error (HTTP 409).
func NewConflictErr(service, sequence int, en, zh string) *Errno {
	return newErr(service, CategoryConflict, sequence, http.StatusConflict, codes.Aborted, en, zh)
}

// NewQuotaErr creates and registers a quota exhaustion error (HTTP 429).
func NewQuotaErr(service, sequence int, en, zh string) *Errno {
	return newErr(service, CategoryRateLimit, sequence, http.StatusTooManyRequests, codes.ResourceExhausted, en, zh)
}

// NewInternalErr creates and registers an internal error (HTTP 500).
func NewInternalErr(service, sequence int, en, zh string) *Errno {
	return newErr(service, CategoryInternal, sequence, http.StatusInternalServerError, codes.Internal, en, zh)
}

// NewDatabaseErr creates and registers a database error (HTTP 500).
func NewDatabaseErr(service, sequence int, en, zh string) *Errno {
	return newErr(service, CategoryDatabase, sequence, http.StatusInternalServerError, codes.Internal, en, zh)
}

// NewCacheErr creates and registers a cache error (HTTP 500).
func NewCacheErr(service, sequence int, en, zh string) *Errno {
	return newErr(service, CategoryCache, sequence, http.StatusInternalServerError, codes.Internal, en, zh)
}

// NewNetworkErr creates and registers an upstream/network error (HTTP 503).
func NewNetworkErr(service, sequence int, en, zh string) *Errno {
	return newErr(service, CategoryNetwork, sequence, http.StatusServiceUnavailable, codes.Unavailable, en, zh)
}

// NewTimeoutErr creates and registers a timeout error (HTTP 504).
func NewTimeoutErr(service, sequence int, en, zh string) *Errno {
	return newErr(service, CategoryTimeout, sequence, http.StatusGatewayTimeout, codes.DeadlineExceeded, en, zh)
}

// NewConfigErr creates and registers a configuration error (HTTP 400).
// Configuration errors of this service stem from caller-supplied chunking parameters.
func NewConfigErr(service, sequence int, en, zh string) *Errno {
	return newErr(service, CategoryConfig, sequence, http.StatusBadRequest, codes.InvalidArgument, en, zh)
}
