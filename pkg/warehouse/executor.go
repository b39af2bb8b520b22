// Package warehouse validates and executes SQL against the analytics
// warehouse.
package warehouse

import (
	"context"

	"github.com/malbeclabs/ada/pkg/sqldialect"
)

type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "TRANSIENT"
	ErrorKindDryRun    ErrorKind = "DRY_RUN"
	ErrorKindAddQuotes ErrorKind = "ADD_QUOTES"
)

// ExecOptions controls a single submission.
type ExecOptions struct {
	// DryRun validates syntax and semantics without materialising rows.
	DryRun bool
	// ProjectID tags the submission for attribution. Optional.
	ProjectID string
}

type Rows struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
	// Truncated is set when the statement returned more rows than the cap.
	Truncated bool `json:"truncated,omitempty"`
}

type Meta struct {
	CorrelationID string    `json:"correlation_id,omitempty"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// Result is the outcome of a submission. Rows is nil for dry-runs and
// failures.
type Result struct {
	OK   bool  `json:"ok"`
	Rows *Rows `json:"rows,omitempty"`
	Meta Meta  `json:"meta"`
}

// Executor runs normalised SQL. Implementations must be safe for concurrent
// use.
type Executor interface {
	Execute(ctx context.Context, sql sqldialect.Quoted, opts ExecOptions) Result
}

// Submit normalises raw SQL and executes it. A transpile failure is reported
// as ADD_QUOTES without contacting the warehouse.
func Submit(ctx context.Context, exec Executor, raw string, opts ExecOptions) (sqldialect.Quoted, Result) {
	quoted, err := sqldialect.Transpile(raw)
	if err != nil {
		return sqldialect.Quoted{}, Result{Meta: Meta{
			ErrorKind:    ErrorKindAddQuotes,
			ErrorMessage: "add_quotes failed: " + err.Error(),
		}}
	}
	return quoted, exec.Execute(ctx, quoted, opts)
}
