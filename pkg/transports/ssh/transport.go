// Package ssh provides the SSH-based remote-execution transport used for
// both apply-engine invocations and read-only platform queries.
package ssh

import (
	"context"
	"fmt"
	"time"
)

// Transport is the remote-execution surface consumed by the orchestrator.
// Every call is synchronous and carries the configured connect/execute
// timeouts; a hung peer surfaces as a timeout error, never as a stall.
type Transport interface {
	// Connect establishes the SSH connection.
	Connect(ctx context.Context) error

	// Disconnect closes the connection and releases all resources.
	Disconnect() error

	// IsConnected reports whether the transport has an active connection.
	IsConnected() bool

	// Run executes a command on the remote host and returns its result.
	// A non-zero exit status is reported in Result, not as an error; err
	// is reserved for transport-level failures (connection, timeout).
	Run(ctx context.Context, cmd string) (Result, error)

	// UploadFile uploads a single file via SFTP with the given mode.
	UploadFile(ctx context.Context, localPath, remotePath string, mode uint32) error
}

// Result is the outcome of one remote command execution.
type Result struct {
	// Stdout is the standard output from the command.
	Stdout string

	// Stderr is the standard error output from the command.
	Stderr string

	// ExitCode is the command's exit status.
	ExitCode int

	// Duration is the total execution time.
	Duration time.Duration
}

// Success reports whether the command exited zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// TransportError is an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed ("connect", "exec", "upload").
	Op string

	// Err is the underlying error.
	Err error

	// IsTimeout indicates the operation exceeded its deadline.
	IsTimeout bool

	// IsAuthError indicates an authentication failure.
	IsAuthError bool
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	switch {
	case e.IsTimeout:
		return fmt.Sprintf("ssh %s timed out: %v", e.Op, e.Err)
	case e.IsAuthError:
		return fmt.Sprintf("ssh %s authentication failed: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("ssh %s failed: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}
