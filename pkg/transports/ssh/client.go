package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

type dialResult struct {
	client *ssh.Client
	err    error
}

// Client implements Transport over a single SSH connection.
type Client struct {
	config *Config

	mu        sync.Mutex
	client    *ssh.Client
	connected bool
}

// NewClient creates a new SSH transport client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	resCh := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		resCh <- dialResult{client, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return &TransportError{Op: "connect", Err: res.err}
		}
		c.client = res.client
		c.connected = true
		return nil
	case <-time.After(c.config.ConnectTimeout):
		go drainDial(resCh)
		return &TransportError{
			Op:        "connect",
			Err:       fmt.Errorf("no response from %s within %s", address, c.config.ConnectTimeout),
			IsTimeout: true,
		}
	case <-ctx.Done():
		go drainDial(resCh)
		return &TransportError{Op: "connect", Err: ctx.Err(), IsTimeout: errors.Is(ctx.Err(), context.DeadlineExceeded)}
	}
}

// drainDial closes the connection of a dial that completed after its
// caller gave up, so an abandoned Connect cannot leak a live session.
func drainDial(resCh <-chan dialResult) {
	if res := <-resCh; res.client != nil {
		_ = res.client.Close()
	}
}

// Disconnect closes the SSH connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.connected = false
	return err
}

// IsConnected reports whether the client holds an open connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.client != nil
}

// Run executes a command on the remote host, bounded by CommandTimeout.
func (c *Client) Run(ctx context.Context, cmd string) (Result, error) {
	client, err := c.getClient()
	if err != nil {
		return Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, &TransportError{Op: "exec", Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runCtx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Run(cmd)
	}()

	select {
	case err = <-errCh:
	case <-runCtx.Done():
		// Closing the session tears down the remote process
		_ = session.Close()
		<-errCh
		return Result{}, &TransportError{
			Op:        "exec",
			Err:       fmt.Errorf("command did not complete within %s: %w", c.config.CommandTimeout, runCtx.Err()),
			IsTimeout: true,
		}
	}

	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, &TransportError{Op: "exec", Err: err}
	}
	return result, nil
}

// UploadFile uploads a single file via SFTP with the given mode.
func (c *Client) UploadFile(ctx context.Context, localPath, remotePath string, mode uint32) error {
	client, err := c.getClient()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to create sftp client: %w", err)}
	}
	defer sftpClient.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return &TransportError{Op: "upload", Err: err}
	}
	defer src.Close()

	dst, err := sftpClient.Create(remotePath)
	if err != nil {
		return &TransportError{Op: "upload", Err: err}
	}
	defer dst.Close()

	if _, err := copyWithContext(ctx, dst, src); err != nil {
		return &TransportError{Op: "upload", Err: err, IsTimeout: errors.Is(err, context.DeadlineExceeded)}
	}

	if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to chmod %s: %w", remotePath, err)}
	}
	return nil
}

// getClient returns the active connection or a transport error.
func (c *Client) getClient() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.client == nil {
		return nil, &TransportError{Op: "exec", Err: fmt.Errorf("not connected")}
	}
	return c.client, nil
}

// copyWithContext copies src to dst, checking for cancellation between
// chunks so a dead link cannot wedge an upload forever.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}
