package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowbench/internal/execx"
)

func TestComposeStackUp(t *testing.T) {
	fake := &execx.Fake{}
	stack := ComposeStack{File: "compose.e2e.yml", Project: "flowbench_run", Dir: "/work", Runner: fake}

	require.NoError(t, stack.Up(context.Background()))

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "docker", calls[0].Name)
	assert.Equal(t, []string{"compose", "-f", "compose.e2e.yml", "up", "-d", "--remove-orphans"}, calls[0].Args)
	assert.Equal(t, []string{"COMPOSE_PROJECT_NAME=flowbench_run"}, calls[0].Env)
	assert.Equal(t, "/work", calls[0].Dir)
}

func TestComposeStackDown(t *testing.T) {
	fake := &execx.Fake{}
	stack := ComposeStack{File: "compose.e2e.yml", Project: "flowbench_run", Runner: fake}

	require.NoError(t, stack.Down(context.Background()))

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"compose", "-f", "compose.e2e.yml", "down", "-v"}, calls[0].Args)
}

func TestComposeStackLogs(t *testing.T) {
	fake := &execx.Fake{Respond: func(execx.FakeCall) (execx.Result, error) {
		return execx.Result{Stdout: []byte("bus | listening\n")}, nil
	}}
	stack := ComposeStack{File: "compose.e2e.yml", Project: "p", Runner: fake}

	out, err := stack.Logs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bus | listening\n", string(out))

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"compose", "-f", "compose.e2e.yml", "logs", "--no-color"}, calls[0].Args)
}

func TestComposeStackNonZeroExit(t *testing.T) {
	fake := &execx.Fake{Respond: func(execx.FakeCall) (execx.Result, error) {
		return execx.Result{ExitCode: 1, Stderr: []byte("no such file")}, nil
	}}
	stack := ComposeStack{File: "missing.yml", Project: "p", Runner: fake}

	err := stack.Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file")
}

func TestComposeStackSpawnFailure(t *testing.T) {
	spawnErr := errors.New("docker not installed")
	fake := &execx.Fake{Respond: func(execx.FakeCall) (execx.Result, error) {
		return execx.Result{}, spawnErr
	}}
	stack := ComposeStack{File: "compose.e2e.yml", Project: "p", Runner: fake}

	assert.ErrorIs(t, stack.Up(context.Background()), spawnErr)
	_, err := stack.Logs(context.Background())
	assert.ErrorIs(t, err, spawnErr)
}
