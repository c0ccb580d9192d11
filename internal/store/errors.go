package store

import "errors"

// Sentinel errors surfaced by the in-memory store's failure toggles.
var (
	errCareProfileUnavailable = errors.New("care profile lookup unavailable")
	errResultsUnavailable     = errors.New("health check result storage unavailable")
)
