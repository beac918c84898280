package forum

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Well known remote error codes.
const (
	CodeTooFrequent      = 220034
	CodeServerBusy       = 300000
	CodeSystemError      = 1
	CodePermissionDenied = 1989002
	CodeContentGone      = 4
	CodeNotLoggedIn      = 110000
)

type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("forum api error %d: %s", e.Code, e.Msg)
}

type Class int

const (
	ClassUnknown Class = iota
	ClassRetriable
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassRetriable:
		return "retriable"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Policy is the explicit retry/classification contract passed to CallWithRetry.
type Policy struct {
	Retriable map[int]struct{}
	Fatal     map[int]struct{}
	// StrictAllowList turns every code outside Retriable into ClassFatal.
	StrictAllowList bool
	MaxAttempts     int
	Backoff         time.Duration
}

func CodeSet(codes ...int) map[int]struct{} {
	set := make(map[int]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set
}

// OneShotPolicy makes a single attempt. Used by the action executor.
func OneShotPolicy() Policy {
	return Policy{
		Retriable:   CodeSet(CodeTooFrequent, CodeServerBusy, CodeSystemError),
		Fatal:       CodeSet(CodePermissionDenied, CodeContentGone, CodeNotLoggedIn),
		MaxAttempts: 1,
	}
}

// ForceDeletePolicy classifies strictly against the retriable allow-list.
func ForceDeletePolicy(retriable, fatal []int) Policy {
	return Policy{
		Retriable:       CodeSet(retriable...),
		Fatal:           CodeSet(fatal...),
		StrictAllowList: true,
		MaxAttempts:     1,
	}
}

func (p Policy) WithAttempts(n int, backoff time.Duration) Policy {
	p.MaxAttempts = n
	p.Backoff = backoff
	return p
}

func (p Policy) Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetriable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassRetriable
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return ClassUnknown
	}
	if _, ok := p.Fatal[apiErr.Code]; ok {
		return ClassFatal
	}
	if _, ok := p.Retriable[apiErr.Code]; ok {
		return ClassRetriable
	}
	if p.StrictAllowList {
		return ClassFatal
	}
	return ClassUnknown
}

// ClassifiedError carries the class decided for the last attempt of a call.
type ClassifiedError struct {
	Class    Class
	Attempts int
	Err      error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", e.Class, e.Attempts, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassUnknown
}

// Reason is the short text shown to moderators for a failed call.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Msg != "" {
			return fmt.Sprintf("%d %s", apiErr.Code, apiErr.Msg)
		}
		return fmt.Sprintf("code %d", apiErr.Code)
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Err.Error()
	}
	return err.Error()
}
