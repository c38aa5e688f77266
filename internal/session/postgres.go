package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps sessions in a relational table. Unlike the map-backed
// backends it relies on the database for isolation, so there is no local
// lock; key uniqueness comes from the primary key and ordering from
// ORDER BY key.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the sessions table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS sessions (
		key TEXT PRIMARY KEY,
		tenant TEXT NOT NULL,
		team TEXT NOT NULL DEFAULT '',
		user_name TEXT NOT NULL DEFAULT '',
		flow_id TEXT NOT NULL DEFAULT '',
		node_id TEXT NOT NULL DEFAULT '',
		context JSONB,
		updated_at_epoch_ms BIGINT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("ensure sessions schema: %w", err)
	}
	return nil
}

const sessionColumns = "key, tenant, team, user_name, flow_id, node_id, context, updated_at_epoch_ms"

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := "SELECT " + sessionColumns + " FROM sessions" + filterClause(filter) + " ORDER BY key"
	rows, err := s.pool.Query(ctx, query, filterArgs(filter)...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Find(ctx context.Context, filter Filter) (*Record, error) {
	query := "SELECT " + sessionColumns + " FROM sessions" + filterClause(filter) + " ORDER BY key LIMIT 1"
	rows, err := s.pool.Query(ctx, query, filterArgs(filter)...)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	record, err := scanRecord(rows)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, payload Upsert) (Record, error) {
	if payload.Tenant == "" {
		return Record{}, ErrTenantRequired
	}
	record := materialize(payload)
	contextJSON, err := json.Marshal(record.Context)
	if err != nil {
		return Record{}, fmt.Errorf("encode session context: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			tenant = EXCLUDED.tenant,
			team = EXCLUDED.team,
			user_name = EXCLUDED.user_name,
			flow_id = EXCLUDED.flow_id,
			node_id = EXCLUDED.node_id,
			context = EXCLUDED.context,
			updated_at_epoch_ms = EXCLUDED.updated_at_epoch_ms`,
		record.Key, record.Tenant, record.Team, record.User,
		record.FlowID, record.NodeID, contextJSON, record.UpdatedAtEpochMS)
	if err != nil {
		return Record{}, fmt.Errorf("upsert session %s: %w", record.Key, err)
	}
	return record, nil
}

func (s *PostgresStore) Purge(ctx context.Context, filter Filter) (int, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM sessions"+filterClause(filter), filterArgs(filter)...)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Remove(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE key = $1", key); err != nil {
		return fmt.Errorf("remove session %s: %w", key, err)
	}
	return nil
}

func filterClause(filter Filter) string {
	clause := ""
	arg := 1
	add := func(column string) {
		if clause == "" {
			clause = " WHERE "
		} else {
			clause += " AND "
		}
		clause += fmt.Sprintf("%s = $%d", column, arg)
		arg++
	}
	if filter.Tenant != "" {
		add("tenant")
	}
	if filter.Team != "" {
		add("team")
	}
	if filter.User != "" {
		add("user_name")
	}
	return clause
}

func filterArgs(filter Filter) []any {
	var args []any
	if filter.Tenant != "" {
		args = append(args, filter.Tenant)
	}
	if filter.Team != "" {
		args = append(args, filter.Team)
	}
	if filter.User != "" {
		args = append(args, filter.User)
	}
	return args
}

func scanRecord(rows pgx.Rows) (Record, error) {
	var record Record
	var contextJSON []byte
	if err := rows.Scan(&record.Key, &record.Tenant, &record.Team, &record.User,
		&record.FlowID, &record.NodeID, &contextJSON, &record.UpdatedAtEpochMS); err != nil {
		return Record{}, fmt.Errorf("scan session row: %w", err)
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &record.Context); err != nil {
			return Record{}, fmt.Errorf("decode session context: %w", err)
		}
	}
	return record, nil
}
