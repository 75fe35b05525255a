package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// Exit code a resolver uses to signal a retryable failure (EX_TEMPFAIL)
const exitTempFail = 75

// CLIGateway resolves operation specs through an external resolver binary.
// The resolver owns all provider CLI syntax; this side passes the semantic
// operation and reads structured JSON back on stdout.
type CLIGateway struct {
	binary string
}

// NewCLIGateway creates a gateway backed by the given resolver binary
func NewCLIGateway(binary string) *CLIGateway {
	return &CLIGateway{binary: binary}
}

// Execute runs one operation through the resolver. Params are passed in
// sorted order so invocations are reproducible.
func (g *CLIGateway) Execute(ctx context.Context, spec models.OperationSpec) (*Result, error) {
	args := []string{spec.Verb, spec.Resource.Key()}
	if spec.Target != "" {
		args = append(args, "--target", spec.Target)
	}

	keys := make([]string, 0, len(spec.Params))
	for k := range spec.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--param", k+"="+spec.Params[k])
	}

	cmd := exec.CommandContext(ctx, g.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		op := fmt.Sprintf("%s %s", spec.Verb, spec.Resource.Key())
		if ctx.Err() != nil {
			return nil, Transient(op, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == exitTempFail {
			return nil, Transient(op, fmt.Errorf("%s", stderr.String()))
		}
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s failed: %s", op, stderr.String())
		}
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	return &Result{Payload: stdout.Bytes()}, nil
}
