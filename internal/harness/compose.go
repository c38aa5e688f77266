package harness

import (
	"context"
	"fmt"

	"flowbench/internal/execx"
)

// Infra starts, stops, and reports on the external infrastructure backing
// an environment.
type Infra interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Logs(ctx context.Context) ([]byte, error)
}

// ComposeStack runs the infrastructure as a docker compose project through
// an injected subprocess runner.
type ComposeStack struct {
	File    string // compose file path
	Project string // COMPOSE_PROJECT_NAME
	Dir     string // working directory for compose invocations
	Runner  execx.Runner
}

func (c ComposeStack) Up(ctx context.Context) error {
	return c.run(ctx, "up", "-d", "--remove-orphans")
}

func (c ComposeStack) Down(ctx context.Context) error {
	return c.run(ctx, "down", "-v")
}

func (c ComposeStack) Logs(ctx context.Context) ([]byte, error) {
	res, err := c.Runner.Run(ctx, "docker", c.args("logs", "--no-color"), c.env(), c.Dir)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("docker compose logs failed (code %d): %s", res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

func (c ComposeStack) run(ctx context.Context, args ...string) error {
	res, err := c.Runner.Run(ctx, "docker", c.args(args...), c.env(), c.Dir)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("docker compose %v failed (code %d): %s", args, res.ExitCode, res.Stderr)
	}
	return nil
}

func (c ComposeStack) args(args ...string) []string {
	return append([]string{"compose", "-f", c.File}, args...)
}

func (c ComposeStack) env() []string {
	return []string{"COMPOSE_PROJECT_NAME=" + c.Project}
}
