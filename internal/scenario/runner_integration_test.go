package scenario

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startBus(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestRunnerAgainstLiveBus(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	busURL := startBus(t)

	t.Run("publish then await succeeds", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "observations.jsonl")
		runner := NewRunner(busURL, logPath)
		defer runner.Close()

		err := runner.Run(Scenario{Name: "roundtrip", Steps: []Step{
			{Publish: &PublishStep{Subject: "orders.created", Payload: map[string]any{"id": 7}}},
			{Await: &AwaitStep{Subject: "orders.created", Expected: map[string]any{"id": 7.0}, TimeoutMS: 3000}},
		}})
		require.NoError(t, err)

		lines := readObservations(t, logPath)
		require.Len(t, lines, 2)
		assert.Equal(t, "nats_publish", lines[0]["step"])
		assert.Equal(t, "await_nats", lines[1]["step"])
	})

	t.Run("await without publisher times out", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "observations.jsonl")
		runner := NewRunner(busURL, logPath)
		defer runner.Close()

		err := runner.Run(Scenario{Name: "silence", Steps: []Step{
			{Await: &AwaitStep{Subject: "orders.silent", TimeoutMS: 300}},
		}})
		require.Error(t, err)

		var timeout *AwaitTimeoutError
		require.ErrorAs(t, err, &timeout)
		assert.Equal(t, "orders.silent", timeout.Subject)
	})

	t.Run("await with wrong expectation fails", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "observations.jsonl")
		runner := NewRunner(busURL, logPath)
		defer runner.Close()

		err := runner.Run(Scenario{Name: "mismatch", Steps: []Step{
			{Publish: &PublishStep{Subject: "orders.wrong", Payload: map[string]any{"id": 1}}},
			{Await: &AwaitStep{Subject: "orders.wrong", Expected: map[string]any{"id": 2}, TimeoutMS: 3000}},
		}})
		require.Error(t, err)

		var mismatch *PayloadMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "orders.wrong", mismatch.Subject)
	})
}
