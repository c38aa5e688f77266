package execx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSRunnerCapturesOutput(t *testing.T) {
	res, err := OSRunner{}.Run(context.Background(), "sh", []string{"-c", "echo out; echo err 1>&2"}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
}

func TestOSRunnerNonZeroExitIsNotAnError(t *testing.T) {
	res, err := OSRunner{}.Run(context.Background(), "sh", []string{"-c", "exit 3"}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestOSRunnerMissingBinary(t *testing.T) {
	_, err := OSRunner{}.Run(context.Background(), "definitely-not-a-binary-xyz", nil, nil, "")
	assert.Error(t, err)
}

func TestOSRunnerPassesEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	res, err := OSRunner{}.Run(context.Background(), "sh", []string{"-c", "echo $FLOWBENCH_TEST_VAR; pwd"},
		[]string{"FLOWBENCH_TEST_VAR=hello"}, dir)
	require.NoError(t, err)
	assert.Contains(t, string(res.Stdout), "hello")
	assert.Contains(t, string(res.Stdout), dir)
}
