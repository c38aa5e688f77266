// Package harness provisions and tears down ephemeral integration-test
// environments: an isolated directory tree, external infrastructure, and
// layered readiness checks for the message bus and the relational store.
// Artifacts are retained on disk after failure; they are the primary
// debugging surface.
package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// RunNameEnv pins the environment name for a whole run.
const RunNameEnv = "FLOWBENCH_RUN_NAME"

// Options configures Provision. Zero-value timeouts fall back to the
// defaults in DefaultTimeouts.
type Options struct {
	// Name overrides the resolved environment name (sanitized first).
	Name string
	// RootDir is the parent directory for environment roots.
	RootDir string
	// BusURL and StoreURL are the endpoints probed for readiness and
	// handed to scenario runners.
	BusURL   string
	StoreURL string
	// Infra starts and stops the external infrastructure. Nil means the
	// infrastructure is managed out-of-band and only probing happens.
	Infra    Infra
	Logger   *slog.Logger
	Timeouts Timeouts
}

// Timeouts bounds each readiness phase per dependency.
type Timeouts struct {
	BusPort    time.Duration
	StorePort  time.Duration
	BusReady   time.Duration
	StoreReady time.Duration
}

// DefaultTimeouts returns the production deadlines: the store gets longer
// port and readiness windows because it initializes storage on first boot.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		BusPort:    30 * time.Second,
		StorePort:  40 * time.Second,
		BusReady:   20 * time.Second,
		StoreReady: 30 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	if t.BusPort <= 0 {
		t.BusPort = def.BusPort
	}
	if t.StorePort <= 0 {
		t.StorePort = def.StorePort
	}
	if t.BusReady <= 0 {
		t.BusReady = def.BusReady
	}
	if t.StoreReady <= 0 {
		t.StoreReady = def.StoreReady
	}
	return t
}

// Env is one provisioned environment. It is torn down at most once; Down and
// the reaper both check the flag under the lock.
type Env struct {
	Name         string
	Root         string
	LogsDir      string
	ArtifactsDir string
	BusURL       string
	StoreURL     string

	infra    Infra
	logger   *slog.Logger
	timeouts Timeouts

	mu   sync.Mutex
	down bool
}

type envSnapshot struct {
	Name        string `json:"name"`
	Root        string `json:"root"`
	BusURL      string `json:"bus_url"`
	StoreURL    string `json:"store_url"`
	TimestampMS int64  `json:"timestamp_ms"`
	CurrentDir  string `json:"current_dir,omitempty"`
	RunNameEnv  string `json:"run_name_env,omitempty"`
}

// Provision brings up an environment: directory tree, snapshot, readiness
// marker, infrastructure, then layered readiness probes for each dependency.
// On failure everything created so far stays on disk for post-mortem
// inspection and the error carries the failing dependency.
func Provision(ctx context.Context, opts Options) (*Env, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := ResolveName(opts.Name)
	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = filepath.Join(".flowbench", "e2e")
	}

	env := &Env{
		Name:     name,
		Root:     filepath.Join(rootDir, name),
		BusURL:   opts.BusURL,
		StoreURL: opts.StoreURL,
		infra:    opts.Infra,
		logger:   logger,
		timeouts: opts.Timeouts.withDefaults(),
	}
	env.LogsDir = filepath.Join(env.Root, "logs")
	env.ArtifactsDir = filepath.Join(env.Root, "artifacts")

	if err := os.MkdirAll(env.LogsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir %s: %w", env.LogsDir, err)
	}
	if err := os.MkdirAll(env.ArtifactsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir %s: %w", env.ArtifactsDir, err)
	}

	cwd, _ := os.Getwd()
	snapshot := envSnapshot{
		Name:        name,
		Root:        env.Root,
		BusURL:      env.BusURL,
		StoreURL:    env.StoreURL,
		TimestampMS: time.Now().UnixMilli(),
		CurrentDir:  cwd,
		RunNameEnv:  os.Getenv(RunNameEnv),
	}
	if err := writeJSON(filepath.Join(env.Root, "env.json"), snapshot); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(env.LogsDir, "READY"), []byte("ok\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write READY marker: %w", err)
	}

	register(env)

	if env.infra != nil {
		env.journal("starting infrastructure")
		if err := env.infra.Up(ctx); err != nil {
			return nil, fmt.Errorf("start infrastructure: %w", err)
		}
	}

	if err := env.waitForEndpoints(ctx); err != nil {
		return nil, err
	}
	if err := env.ensureReady(ctx); err != nil {
		return nil, err
	}
	env.journal("environment ready")
	logger.Info("environment provisioned", "name", env.Name, "root", env.Root)
	return env, nil
}

// waitForEndpoints blocks until both dependency TCP ports accept a
// connection. This runs before any protocol-level check.
func (e *Env) waitForEndpoints(ctx context.Context) error {
	if err := waitForPort(ctx, "bus", e.BusURL, e.timeouts.BusPort, e.LogsDir); err != nil {
		return err
	}
	return waitForPort(ctx, "store", e.StoreURL, e.timeouts.StorePort, e.LogsDir)
}

// ensureReady runs the protocol-level probes for both dependencies.
func (e *Env) ensureReady(ctx context.Context) error {
	if err := ensureBusReady(ctx, e.BusURL, e.timeouts.BusReady, e.LogsDir); err != nil {
		return err
	}
	return ensureStoreReady(ctx, e.StoreURL, e.timeouts.StoreReady, e.LogsDir)
}

// Down tears the environment down: infrastructure logs are captured
// best-effort, the infrastructure is stopped, and the environment is marked
// torn down. Calling Down twice is a no-op.
func (e *Env) Down(ctx context.Context) {
	e.teardown(ctx, false)
}

func (e *Env) teardown(ctx context.Context, reaped bool) {
	e.mu.Lock()
	if e.down {
		e.mu.Unlock()
		return
	}
	e.down = true
	e.mu.Unlock()

	deregister(e)

	if reaped {
		e.journal("reaped without explicit down; capturing logs and tearing down")
	} else {
		e.journal("capturing infrastructure logs before teardown")
	}
	e.captureInfraLogs(ctx)

	if e.infra != nil {
		e.journal("stopping infrastructure")
		if err := e.infra.Down(ctx); err != nil {
			e.logger.Error("failed to stop infrastructure", "name", e.Name, "error", err)
		}
	}

	if reaped {
		marker := filepath.Join(e.LogsDir, "dropped_without_down")
		_ = os.WriteFile(marker, []byte("environment reaped without explicit down; artifacts preserved\n"), 0o644)
	}
}

// captureInfraLogs writes the infrastructure log stream to logs/compose.log.
// Failure to capture degrades to a written note; it never escalates.
func (e *Env) captureInfraLogs(ctx context.Context) {
	if e.infra == nil {
		return
	}
	logPath := filepath.Join(e.LogsDir, "compose.log")
	data, err := e.infra.Logs(ctx)
	if err != nil {
		note := fmt.Sprintf("failed to capture infrastructure logs: %v\n", err)
		_ = os.WriteFile(logPath, []byte(note), 0o644)
		return
	}
	if err := os.WriteFile(logPath, data, 0o644); err != nil {
		e.logger.Error("failed to write infrastructure logs", "path", logPath, "error", err)
	}
}

// Healthcheck revalidates the directory tree and readiness marker, refreshes
// the heartbeat file, and re-runs the protocol probes. It does not repeat
// the TCP port waits, so it is cheap enough to call repeatedly.
func (e *Env) Healthcheck(ctx context.Context) error {
	for _, dir := range []string{e.LogsDir, e.ArtifactsDir} {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("environment directory missing: %s: %w", dir, err)
		}
	}
	ready := filepath.Join(e.LogsDir, "READY")
	if _, err := os.Stat(ready); err != nil {
		return fmt.Errorf("missing READY marker at %s: %w", ready, err)
	}

	heartbeat := fmt.Sprintf("healthy at %d\n", time.Now().UnixMilli())
	if err := os.WriteFile(filepath.Join(e.LogsDir, "healthcheck.txt"), []byte(heartbeat), 0o644); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}

	return e.ensureReady(ctx)
}

// TenantArtifactDir creates and returns artifacts/tenants/<tenant>.
func (e *Env) TenantArtifactDir(tenant string) (string, error) {
	dir := filepath.Join(e.ArtifactsDir, "tenants", tenant)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create tenant artifacts dir %s: %w", dir, err)
	}
	return dir, nil
}

// WriteTenantSecret merges key=value into the tenant's secrets.json,
// creating the document if absent. Used to simulate per-tenant credential
// isolation in tests.
func (e *Env) WriteTenantSecret(tenant, key, value string) (string, error) {
	dir, err := e.TenantArtifactDir(tenant)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "secrets.json")

	secrets := map[string]string{}
	if raw, err := os.ReadFile(path); err == nil {
		// Existing unparsable content is replaced rather than erroring;
		// the secrets file is test scaffolding, not durable state.
		_ = json.Unmarshal(raw, &secrets)
	}
	secrets[key] = value

	if err := writeJSON(path, secrets); err != nil {
		return "", err
	}
	return path, nil
}

// journal appends one timestamped line to logs/harness.log. Journal failures
// are logged and swallowed; the journal is diagnostics, not state.
func (e *Env) journal(line string) {
	path := filepath.Join(e.LogsDir, "harness.log")
	entry := fmt.Sprintf("[%d] %s\n", time.Now().UnixMilli(), line)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		e.logger.Error("failed to open harness journal", "path", path, "error", err)
		return
	}
	defer file.Close()
	if _, err := file.WriteString(entry); err != nil {
		e.logger.Error("failed to write harness journal", "path", path, "error", err)
	}
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

var nameSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ResolveName picks the environment name: the pinning env var wins, then the
// explicit option, then a timestamped fallback. Names are sanitized to
// [A-Za-z0-9_-] with leading/trailing underscores trimmed.
func ResolveName(explicit string) string {
	if name := sanitizeName(os.Getenv(RunNameEnv)); name != "" {
		return name
	}
	if name := sanitizeName(explicit); name != "" {
		return name
	}
	return fmt.Sprintf("run-%d", time.Now().UnixMilli())
}

func sanitizeName(input string) string {
	cleaned := nameSanitizer.ReplaceAllString(input, "_")
	return strings.Trim(cleaned, "_")
}

// Reaper registry: every provisioned environment stays registered until its
// explicit Down. ReapAll is the shutdown hook that keeps infrastructure from
// leaking when an environment handle is discarded without teardown.
var (
	reaperMu sync.Mutex
	live     = make(map[*Env]struct{})
)

func register(e *Env) {
	reaperMu.Lock()
	defer reaperMu.Unlock()
	live[e] = struct{}{}
}

func deregister(e *Env) {
	reaperMu.Lock()
	defer reaperMu.Unlock()
	delete(live, e)
}

// ReapAll tears down every environment that was never explicitly downed,
// leaving the dropped_without_down marker in each. Call it from a deferred
// block in test mains and from the CLI signal handler.
func ReapAll(ctx context.Context) {
	reaperMu.Lock()
	envs := make([]*Env, 0, len(live))
	for e := range live {
		envs = append(envs, e)
	}
	reaperMu.Unlock()

	for _, e := range envs {
		e.teardown(ctx, true)
	}
}
