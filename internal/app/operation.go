package app

import (
	"strings"
	"time"
)

// Operation tracks the CLI command being run so its start and outcome can
// be logged under a single ID.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	Status     string // "success" or "error"
	StartedAt  time.Time
}

// NewOperation creates an operation identified by its UTC start time.
func NewOperation(name string, started time.Time, params ...string) *Operation {
	return &Operation{
		ID:         started.UTC().Format("20060102T150405Z"),
		Name:       name,
		Parameters: strings.Join(params, " "),
		Status:     "success",
		StartedAt:  started,
	}
}

// Fail marks the operation as failed when err is non-nil and returns err.
func (op *Operation) Fail(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}

// Succeeded reports whether nothing has failed so far.
func (op *Operation) Succeeded() bool {
	return op.Status == "success"
}
