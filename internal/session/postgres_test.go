package session

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("flowbench-test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx), "schema creation is idempotent")

	t.Run("upsert and filter", func(t *testing.T) {
		for _, u := range []Upsert{
			{Key: "s1", Tenant: "acme", Team: "ops", User: "bob", Context: map[string]any{"step": float64(1)}},
			{Key: "s2", Tenant: "acme", Team: "ops", User: "alice"},
			{Key: "s3", Tenant: "other"},
		} {
			_, err := store.Upsert(ctx, u)
			require.NoError(t, err)
		}

		all, err := store.List(ctx, Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		ops, err := store.List(ctx, Filter{Tenant: "acme", Team: "ops"})
		require.NoError(t, err)
		require.Len(t, ops, 2)
		assert.Equal(t, "s1", ops[0].Key)
		assert.Equal(t, map[string]any{"step": float64(1)}, ops[0].Context)
	})

	t.Run("upsert replaces on conflict", func(t *testing.T) {
		first, err := store.Upsert(ctx, Upsert{Key: "s1", Tenant: "acme", FlowID: "flow-b"})
		require.NoError(t, err)
		assert.Equal(t, "flow-b", first.FlowID)

		found, err := store.Find(ctx, Filter{Tenant: "acme"})
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "s1", found.Key)
		assert.Equal(t, "flow-b", found.FlowID)
	})

	t.Run("find without match", func(t *testing.T) {
		found, err := store.Find(ctx, Filter{Tenant: "ghost"})
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("tenant is required", func(t *testing.T) {
		_, err := store.Upsert(ctx, Upsert{Key: "bad"})
		assert.ErrorIs(t, err, ErrTenantRequired)
	})

	t.Run("remove and purge", func(t *testing.T) {
		require.NoError(t, store.Remove(ctx, "s2"))
		require.NoError(t, store.Remove(ctx, "s2"), "remove is idempotent")

		removed, err := store.Purge(ctx, Filter{Tenant: "acme"})
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		removed, err = store.Purge(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, 1, removed, "empty filter purges everything left")
	})
}
