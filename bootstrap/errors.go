package bootstrap

import "errors"

type ExitCode int

const (
	ExitSuccess      ExitCode = 0
	ExitConnectivity ExitCode = 1
	ExitConfig       ExitCode = 2
	ExitUpstream     ExitCode = 3
)

var (
	ErrConfig       = errors.New("configuration error")
	ErrConnectivity = errors.New("connectivity error")
	ErrUpstream     = errors.New("upstream error")

	ErrDeployInProgress = errors.New("another deploy holds the lock")
)

// ExitCodeFor maps err to the process exit code. Unclassified errors are
// treated as unrecoverable upstream failures.
func ExitCodeFor(err error) ExitCode {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ErrConfig):
		return ExitConfig
	case errors.Is(err, ErrConnectivity):
		return ExitConnectivity
	}
	return ExitUpstream
}
