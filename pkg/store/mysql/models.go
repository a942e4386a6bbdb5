package mysql

import (
	"errors"

	"opswatch/pkg/store/mysql/model"
)

// Re-export model types so callers can depend on the store package alone
type (
	ServiceHealth        = model.ServiceHealth
	SystemResourceSample = model.SystemResourceSample
	RequestLog           = model.RequestLog
	Alert                = model.Alert
	JSONMap              = model.JSONMap
)

var (
	// ErrAlertNotFound is returned when resolving an alert id that does not exist
	ErrAlertNotFound = errors.New("alert not found")
	// ErrAlertAlreadyResolved is returned when resolving an alert twice
	ErrAlertAlreadyResolved = errors.New("alert already resolved")
)
