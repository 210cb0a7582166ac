// Package models holds the request throttling vocabulary.
package models

import (
	"net/http"
	"time"
)

// Class buckets requests so reads and state-changing calls get separate
// budgets.
type Class string

const (
	ClassRead  Class = "read"
	ClassWrite Class = "write"
)

// ClassOf maps an HTTP method to its class. Anything that is not a safe
// method counts as a write.
func ClassOf(method string) Class {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassRead
	}
	return ClassWrite
}

// Limit is a sliding-window budget.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Result is the outcome of one check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Key names the window for a subject in a class.
func Key(class Class, subject string) string {
	return "ratelimit:" + string(class) + ":" + subject
}
