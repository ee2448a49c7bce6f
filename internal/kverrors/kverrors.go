// Package kverrors classifies the five error kinds of the server's error
// handling design onto github.com/containerd/errdefs sentinels, so callers
// anywhere in the tree can test "what kind of failure was this" with
// errors.Is / the Is* helpers below instead of comparing strings or sentinel
// values scattered per package.
package kverrors

import (
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

// Protocol wraps err as a malformed-framing / unknown-op-code / short-read
// failure. A session hitting this transitions to DRAINING with no reply.
func Protocol(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), cerrdefs.ErrInvalidArgument)
}

// IsProtocol reports whether err is a Protocol error.
func IsProtocol(err error) bool { return cerrdefs.IsInvalidArgument(err) }

// ResourceExhausted wraps err as a capacity failure (subscription table
// full, snapshot cap reached). Client-facing status is '1'; not fatal.
func ResourceExhausted(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), cerrdefs.ErrResourceExhausted)
}

// IsResourceExhausted reports whether err is a ResourceExhausted error.
func IsResourceExhausted(err error) bool { return cerrdefs.IsResourceExhausted(err) }

// NotFound wraps err as a missing-key failure (SUBSCRIBE on an absent key,
// UNSUBSCRIBE on a non-subscribed key). Status '1'; never logged as fatal.
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), cerrdefs.ErrNotFound)
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return cerrdefs.IsNotFound(err) }

// IO wraps err as a FIFO open/read/write failure.
func IO(op string, err error) error {
	return fmt.Errorf("%s: %w", op, joinUnavailable(err))
}

func joinUnavailable(err error) error {
	return errors.Wrap(cerrdefs.ErrUnavailable, err.Error())
}

// IsIO reports whether err is an IO error.
func IsIO(err error) bool { return cerrdefs.IsUnavailable(err) }

// Fatal wraps err as an unrecoverable init failure (cannot create the
// rendezvous FIFO, cannot allocate the Store). The process exits non-zero.
func Fatal(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), cerrdefs.ErrInternal)
}

// IsFatal reports whether err is a Fatal error.
func IsFatal(err error) bool { return cerrdefs.IsInternal(err) }
