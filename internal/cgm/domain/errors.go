package domain

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	ErrInvalidUser        = errors.New("invalid user")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRegionMismatch     = errors.New("region mismatch")
	ErrNetworkFailure     = errors.New("network failure")
	ErrUnsupportedDevice  = errors.New("unsupported device")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrNoReading          = errors.New("no reading available")
)

// ClassifyVendorError folds raw vendor/transport errors into the small
// taxonomy callers are shown. Already-classified errors pass through.
func ClassifyVendorError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrRegionMismatch),
		errors.Is(err, ErrNetworkFailure),
		errors.Is(err, ErrUnsupportedDevice),
		errors.Is(err, ErrNoReading):
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return ErrNetworkFailure
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "authenticat"),
		strings.Contains(msg, "password"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "401"):
		return ErrInvalidCredentials
	case strings.Contains(msg, "region"),
		strings.Contains(msg, "redirect"):
		return ErrRegionMismatch
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "eof"):
		return ErrNetworkFailure
	default:
		return ErrNetworkFailure
	}
}
