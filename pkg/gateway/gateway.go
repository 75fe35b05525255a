package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// Result is the structured output of one gateway operation
type Result struct {
	Payload json.RawMessage
}

// Decode unmarshals the result payload into v
func (r *Result) Decode(v interface{}) error {
	if r == nil || len(r.Payload) == 0 {
		return fmt.Errorf("empty gateway result")
	}
	return json.Unmarshal(r.Payload, v)
}

// CommandGateway executes a named cloud operation and returns structured
// output. The implementation is external to this module; the orchestrator
// only composes semantic operation specs.
type CommandGateway interface {
	Execute(ctx context.Context, spec models.OperationSpec) (*Result, error)
}

// TransientError marks a failure worth retrying: timeouts, rate limiting,
// temporary source unavailability.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err should trigger a retry
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
