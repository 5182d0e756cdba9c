package executor

import "context"

// Executor defines the interface for executing external commands
type Executor interface {
	// ExecuteInDir runs an external command in a specific working
	// directory; an empty dir inherits the process working directory.
	ExecuteInDir(ctx context.Context, dir string, name string, args ...string) (string, error)
}
