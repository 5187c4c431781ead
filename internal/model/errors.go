package model

import "errors"

// ErrJobNotFound is returned by job stores when no job has the requested id
var ErrJobNotFound = errors.New("bulk upload job not found")

// ErrUserNotFound is returned by user lookups when no user has the requested id
var ErrUserNotFound = errors.New("user not found")

// ErrLeaseNotHeld is returned when extending a lease the caller does not own
var ErrLeaseNotHeld = errors.New("lease not found or not owned by this worker")
