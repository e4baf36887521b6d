// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"errors"
	"fmt"
)

var (
	errNotFound         = errors.New("not found")
	errInvalidArgument  = errors.New("invalid argument")
	errInvalidOperation = errors.New("invalid operation")
	errFailed           = errors.New("failed")
	errConflict         = errors.New("conflict")
)

func ErrNotFound(what string) error {
	return fmt.Errorf("%s %w", what, errNotFound)
}

func ErrNotFoundWithParam(what string, paramName string, paramValue interface{}) error {
	return fmt.Errorf("%s %w with %s=%v", what, errNotFound, paramName, paramValue)
}

func ErrSessionNotFound(imsi string, sessionID string) error {
	return fmt.Errorf("session %w for imsi=%s session_id=%s", errNotFound, imsi, sessionID)
}

func ErrInvalidOperation(operation interface{}) error {
	return fmt.Errorf("%w: %v", errInvalidOperation, operation)
}

func ErrInvalidArgument(name string, value interface{}) error {
	return fmt.Errorf("%w '%s': %v", errInvalidArgument, name, value)
}

func ErrInvalidArgumentWithReason(name string, value interface{}, reason string) error {
	return fmt.Errorf("%w '%s'=%v (%s)", errInvalidArgument, name, value, reason)
}

func ErrOperationFailedWithReason(operation interface{}, reason string) error {
	return fmt.Errorf("%v %w due to: %s", operation, errFailed, reason)
}

func ErrMergeConflict(what string, paramName string, paramValue interface{}) error {
	return fmt.Errorf("%s %w with %s=%v", what, errConflict, paramName, paramValue)
}

// IsNotFound reports whether err wraps the package's not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

// IsMergeConflict reports whether err wraps the package's conflict sentinel.
func IsMergeConflict(err error) bool {
	return errors.Is(err, errConflict)
}
