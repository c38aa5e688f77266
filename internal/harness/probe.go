package harness

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nats-io/nats.go"
)

const (
	portPollInterval  = 250 * time.Millisecond
	readyPollInterval = 300 * time.Millisecond
	storeQueryTimeout = 5 * time.Second
)

// DependencyTimeoutError means a dependency never became ready within its
// deadline. It is fatal to provisioning.
type DependencyTimeoutError struct {
	Dependency string
	LastErr    error
}

func (e *DependencyTimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("dependency %s did not become ready in time: %v", e.Dependency, e.LastErr)
	}
	return fmt.Sprintf("dependency %s did not become ready in time", e.Dependency)
}

func (e *DependencyTimeoutError) Unwrap() error { return e.LastErr }

// waitForPort polls until the dependency's TCP endpoint accepts a
// connection. The endpoint is taken from the URL's host:port.
func waitForPort(ctx context.Context, name, rawURL string, deadline time.Duration, logsDir string) error {
	addr, err := hostPort(rawURL)
	if err != nil {
		return fmt.Errorf("dependency %s: %w", name, err)
	}

	start := time.Now()
	var lastErr error
	for {
		conn, err := net.DialTimeout("tcp", addr, portPollInterval)
		if err == nil {
			conn.Close()
			writeProbe(logsDir, name, "port open")
			return nil
		}
		lastErr = err

		if time.Since(start) > deadline {
			writeProbe(logsDir, name, "port wait timed out")
			return &DependencyTimeoutError{Dependency: name, LastErr: lastErr}
		}
		select {
		case <-ctx.Done():
			return &DependencyTimeoutError{Dependency: name, LastErr: ctx.Err()}
		case <-time.After(portPollInterval):
		}
	}
}

// ensureBusReady performs the protocol-level bus check: connect and flush.
func ensureBusReady(ctx context.Context, busURL string, deadline time.Duration, logsDir string) error {
	start := time.Now()
	var lastErr error
	for {
		conn, err := nats.Connect(busURL)
		if err == nil {
			err = conn.Flush()
			conn.Close()
			if err == nil {
				writeProbe(logsDir, "bus", "ready")
				return nil
			}
		}
		lastErr = err

		if time.Since(start) > deadline {
			writeProbe(logsDir, "bus", "readiness timed out")
			return &DependencyTimeoutError{Dependency: "bus", LastErr: lastErr}
		}
		select {
		case <-ctx.Done():
			return &DependencyTimeoutError{Dependency: "bus", LastErr: ctx.Err()}
		case <-time.After(readyPollInterval):
		}
	}
}

// ensureStoreReady performs the protocol-level store check: connect and run
// a trivial query under its own sub-timeout.
func ensureStoreReady(ctx context.Context, storeURL string, deadline time.Duration, logsDir string) error {
	start := time.Now()
	var lastErr error
	for {
		lastErr = storeProbe(ctx, storeURL)
		if lastErr == nil {
			writeProbe(logsDir, "store", "ready")
			return nil
		}

		if time.Since(start) > deadline {
			writeProbe(logsDir, "store", "readiness timed out")
			return &DependencyTimeoutError{Dependency: "store", LastErr: lastErr}
		}
		select {
		case <-ctx.Done():
			return &DependencyTimeoutError{Dependency: "store", LastErr: ctx.Err()}
		case <-time.After(readyPollInterval):
		}
	}
}

func storeProbe(ctx context.Context, storeURL string) error {
	probeCtx, cancel := context.WithTimeout(ctx, storeQueryTimeout)
	defer cancel()

	conn, err := pgx.Connect(probeCtx, storeURL)
	if err != nil {
		return err
	}
	defer conn.Close(probeCtx)

	var one int
	if err := conn.QueryRow(probeCtx, "SELECT 1").Scan(&one); err != nil {
		return err
	}
	return nil
}

func hostPort(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid dependency URL %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("dependency URL %q has no host", rawURL)
	}
	return u.Host, nil
}

// writeProbe appends one state-transition line to the per-dependency probe
// log. Probe logging is diagnostics; failures are ignored.
func writeProbe(logsDir, dependency, message string) {
	path := filepath.Join(logsDir, "probe-"+dependency+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	fmt.Fprintf(file, "[%d] %s\n", time.Now().UnixMilli(), message)
}
