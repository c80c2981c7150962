package domain

import "errors"

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidDataType  = errors.New("invalid_data_type")
	ErrUnusableEntry    = errors.New("unusable_entry")
	ErrInvalidTimestamp = errors.New("invalid_timestamp")
)
