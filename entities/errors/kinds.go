//  _                          _
// | | _____  _____  ___  _ __| |_
// | |/ _ \ \/ / __|/ _ \| '__| __|
// | |  __/>  <\__ \ (_) | |  | |_
// |_|\___/_/\_\___/\___/|_|   \__|
//
//  Copyright © 2022 - 2026 Lexsort B.V. All rights reserved.
//
//  CONTACT: hello@lexsort.io
//

package errors

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks a startup precondition violation (bad threshold,
// missing input file). It is fatal before any job is spawned and never
// retried.
type ErrConfiguration struct {
	err error
}

func (e ErrConfiguration) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e ErrConfiguration) Unwrap() error {
	return e.err
}

func NewErrConfiguration(err error) ErrConfiguration {
	return ErrConfiguration{err}
}

func NewErrConfigurationf(format string, args ...interface{}) ErrConfiguration {
	return ErrConfiguration{fmt.Errorf(format, args...)}
}

// ErrDataInvariant marks a broken internal contract: a range without a single
// complete line, a copy that came up short. It aborts the whole job tree, it
// is not a user-recoverable condition.
type ErrDataInvariant struct {
	err error
}

func (e ErrDataInvariant) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e ErrDataInvariant) Unwrap() error {
	return e.err
}

func NewErrDataInvariant(err error) ErrDataInvariant {
	return ErrDataInvariant{err}
}

func NewErrDataInvariantf(format string, args ...interface{}) ErrDataInvariant {
	return ErrDataInvariant{fmt.Errorf(format, args...)}
}

// ErrNotFound is returned by store backends for handles that do not exist.
type ErrNotFound struct {
	err error
}

func (e ErrNotFound) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e ErrNotFound) Unwrap() error {
	return e.err
}

func NewErrNotFound(err error) ErrNotFound {
	return ErrNotFound{err}
}

// ErrContextExpired is returned by store backends whose operation context
// was already done on entry.
type ErrContextExpired struct {
	err error
}

func (e ErrContextExpired) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e ErrContextExpired) Unwrap() error {
	return e.err
}

func NewErrContextExpired(err error) ErrContextExpired {
	return ErrContextExpired{err}
}

// ErrInternal is an unexpected store or scheduler failure that is worth
// retrying because a re-run with identical inputs may succeed.
type ErrInternal struct {
	err error
}

func (e ErrInternal) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e ErrInternal) Unwrap() error {
	return e.err
}

func NewErrInternal(err error) ErrInternal {
	return ErrInternal{err}
}

func IsConfiguration(err error) bool {
	return errors.As(err, &ErrConfiguration{})
}

func IsDataInvariant(err error) bool {
	return errors.As(err, &ErrDataInvariant{})
}

func IsNotFound(err error) bool {
	return errors.As(err, &ErrNotFound{})
}

func IsContextExpired(err error) bool {
	return errors.As(err, &ErrContextExpired{})
}
