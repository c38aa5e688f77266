package pack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"flowbench/internal/execx"
)

// Pack tooling shells out to the platform's own binaries when they are
// installed and falls back to local stubs otherwise, so scenarios keep
// running on machines without a full toolchain. Strict mode disables the
// fallbacks for CI runs that must exercise the real binaries.

// ErrStrictMode is returned when no tool binary was found and fallbacks are
// disabled via FLOWBENCH_PACK_STRICT or FLOWBENCH_PACK_NO_FALLBACK.
var ErrStrictMode = errors.New("pack tool binary not found and strict mode is enabled")

// BuildResult describes how a pack archive was produced.
type BuildResult struct {
	Archive string
	Builder string // binary path, or "" when the fixture was copied
}

// VerifyResult describes how a pack archive was checked.
type VerifyResult struct {
	OK       bool
	Verifier string // binary path, or "" for the stub parse
}

// InstallResult describes where a pack archive was installed.
type InstallResult struct {
	OK     bool
	Target string
}

// Build produces artifactsDir/pack/pack.archive from fixtureRoot, preferring
// a discovered builder binary and otherwise copying the fixture archive (or
// serializing its manifest). The outcome is logged to logsDir/pack_build.log.
func Build(ctx context.Context, runner execx.Runner, fixtureRoot, artifactsDir, logsDir string) (BuildResult, error) {
	outDir := filepath.Join(artifactsDir, "pack")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return BuildResult{}, fmt.Errorf("create %s: %w", outDir, err)
	}
	archive := filepath.Join(outDir, "pack.archive")
	logPath := filepath.Join(logsDir, "pack_build.log")

	if bin, ok := findBinary("flowbench-packc", "packc"); ok {
		res, err := runner.Run(ctx, bin, []string{"build", fixtureRoot, "--output", archive}, nil, "")
		writeToolLog(logPath, "builder", bin, res)
		if err != nil {
			return BuildResult{}, err
		}
		if res.ExitCode != 0 {
			return BuildResult{}, fmt.Errorf("pack build failed with status %d: %s", res.ExitCode, res.Stderr)
		}
		return BuildResult{Archive: archive, Builder: bin}, nil
	}

	if strictMode() {
		return BuildResult{}, fmt.Errorf("pack build: %w", ErrStrictMode)
	}

	fixtureArchive := filepath.Join(fixtureRoot, "pack.archive")
	if data, err := os.ReadFile(fixtureArchive); err == nil {
		if err := os.WriteFile(archive, data, 0o644); err != nil {
			return BuildResult{}, fmt.Errorf("copy fixture archive: %w", err)
		}
	} else {
		manifestPath := filepath.Join(fixtureRoot, "pack.json")
		raw, err := os.ReadFile(manifestPath)
		if err != nil {
			return BuildResult{}, fmt.Errorf("read manifest %s: %w", manifestPath, err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return BuildResult{}, fmt.Errorf("invalid manifest %s: %w", manifestPath, err)
		}
		if err := os.WriteFile(archive, raw, 0o644); err != nil {
			return BuildResult{}, fmt.Errorf("write %s: %w", archive, err)
		}
	}
	writeToolLog(logPath, "builder", "fallback copy", execx.Result{})
	return BuildResult{Archive: archive}, nil
}

// Verify checks the archive with a discovered verifier binary, or with a
// stub JSON parse when fallbacks are allowed.
func Verify(ctx context.Context, runner execx.Runner, archive, logsDir string) (VerifyResult, error) {
	logPath := filepath.Join(logsDir, "pack_verify.log")

	if bin, ok := findBinary("flowbench-pack", "flowbench-packc", "packc"); ok {
		res, err := runner.Run(ctx, bin, []string{"verify", archive}, nil, "")
		writeToolLog(logPath, "verifier", bin, res)
		if err != nil {
			return VerifyResult{}, err
		}
		if res.ExitCode != 0 {
			return VerifyResult{}, fmt.Errorf("pack verify failed with status %d: %s", res.ExitCode, res.Stderr)
		}
		return VerifyResult{OK: true, Verifier: bin}, nil
	}

	if strictMode() {
		return VerifyResult{}, fmt.Errorf("pack verify: %w", ErrStrictMode)
	}

	raw, err := os.ReadFile(archive)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("read %s: %w", archive, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return VerifyResult{}, fmt.Errorf("stub verify %s: %w", archive, err)
	}
	writeToolLog(logPath, "verifier", "stub parse", execx.Result{})
	return VerifyResult{OK: true}, nil
}

// Install deploys the archive to target with a discovered installer binary,
// or records a stub install by copying the archive into the artifacts tree.
func Install(ctx context.Context, runner execx.Runner, target, archive, artifactsDir, logsDir string) (InstallResult, error) {
	logPath := filepath.Join(logsDir, "pack_install.log")
	installOut := filepath.Join(artifactsDir, "pack", "installed.json")
	if err := os.MkdirAll(filepath.Dir(installOut), 0o755); err != nil {
		return InstallResult{}, fmt.Errorf("create %s: %w", filepath.Dir(installOut), err)
	}

	if bin, ok := findBinary("flowbench-deployer", "flowbench-pack"); ok {
		res, err := runner.Run(ctx, bin, []string{"install", archive, "--target", target}, nil, "")
		writeToolLog(logPath, "installer", bin, res)
		if err != nil {
			return InstallResult{}, err
		}
		if res.ExitCode != 0 {
			return InstallResult{}, fmt.Errorf("pack install failed with status %d: %s", res.ExitCode, res.Stderr)
		}
		note, _ := json.Marshal(map[string]any{"installed": true, "target": target, "mode": "binary"})
		if err := os.WriteFile(installOut, note, 0o644); err != nil {
			return InstallResult{}, fmt.Errorf("write %s: %w", installOut, err)
		}
		return InstallResult{OK: true, Target: target}, nil
	}

	if strictMode() {
		return InstallResult{}, fmt.Errorf("pack install: %w", ErrStrictMode)
	}

	data, err := os.ReadFile(archive)
	if err != nil {
		return InstallResult{}, fmt.Errorf("read %s: %w", archive, err)
	}
	if err := os.WriteFile(installOut, data, 0o644); err != nil {
		return InstallResult{}, fmt.Errorf("write %s: %w", installOut, err)
	}
	writeToolLog(logPath, "installer", "stub copy", execx.Result{})
	return InstallResult{OK: true, Target: target}, nil
}

func findBinary(names ...string) (string, bool) {
	var candidates []string
	for _, name := range names {
		candidates = append(candidates,
			filepath.Join("tests", "bin", name),
			filepath.Join("bin", name),
		)
		for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
			if dir != "" {
				candidates = append(candidates, filepath.Join(dir, name))
			}
		}
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

func strictMode() bool {
	for _, name := range []string{"FLOWBENCH_PACK_STRICT", "FLOWBENCH_PACK_NO_FALLBACK"} {
		v := os.Getenv(name)
		if v == "1" || strings.EqualFold(v, "true") {
			return true
		}
	}
	return false
}

func writeToolLog(path, role, tool string, res execx.Result) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", role, tool)
	fmt.Fprintf(&b, "status: %d\n", res.ExitCode)
	if len(res.Stdout) > 0 {
		fmt.Fprintf(&b, "stdout:\n%s\n", res.Stdout)
	}
	if len(res.Stderr) > 0 {
		fmt.Fprintf(&b, "stderr:\n%s\n", res.Stderr)
	}
	// Tool logs are best-effort diagnostics.
	_ = os.WriteFile(path, []byte(b.String()), 0o644)
}
