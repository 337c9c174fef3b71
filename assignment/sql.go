package assignment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Dialect selects the SQL placeholder style.
type Dialect int

const (
	// DialectPostgres uses $1, $2, ... placeholders.
	DialectPostgres Dialect = iota
	// DialectSQLite uses ? placeholders (also fine for MySQL).
	DialectSQLite
)

// SQLStore implements Store on a relational table through database/sql.
// The driver is supplied by the caller.
//
// Table Schema:
//
//	CREATE TABLE shard_channel (
//	    shard_id VARCHAR(255) PRIMARY KEY,
//	    channel  INTEGER NOT NULL
//	);
//
// A new shard's channel is the current row count modulo the channel
// count, computed and inserted in one transaction. A concurrent insert of
// the same shard loses on the primary key and reads back the winner.
//
// Example:
//
//	db, _ := sql.Open("postgres", connString)
//	store := assignment.NewSQLStore(db)
//	if err := store.EnsureSchema(ctx); err != nil {
//	    return err
//	}
type SQLStore struct {
	db      *sql.DB
	table   string
	dialect Dialect
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithSQLTable sets the table name. Default is "shard_channel".
func WithSQLTable(table string) SQLOption {
	return func(s *SQLStore) {
		if table != "" {
			s.table = table
		}
	}
}

// WithSQLDialect sets the placeholder dialect. Default is DialectPostgres.
func WithSQLDialect(d Dialect) SQLOption {
	return func(s *SQLStore) {
		s.dialect = d
	}
}

// NewSQLStore creates a new SQL-backed assignment store.
func NewSQLStore(db *sql.DB, opts ...SQLOption) *SQLStore {
	s := &SQLStore{
		db:      db,
		table:   "shard_channel",
		dialect: DialectPostgres,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ph returns the i-th (1-based) placeholder.
func (s *SQLStore) ph(i int) string {
	if s.dialect == DialectPostgres {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// EnsureSchema creates the assignment table if it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			shard_id VARCHAR(255) PRIMARY KEY,
			channel INTEGER NOT NULL
		)`, s.table))
	return err
}

// ChannelAssignment returns the recorded channel, assigning one on first sight.
func (s *SQLStore) ChannelAssignment(ctx context.Context, shardID string, channels int) (int, error) {
	if err := checkChannels(channels); err != nil {
		return 0, err
	}

	ch, found, err := s.get(ctx, shardID)
	if err != nil || found {
		return ch, err
	}

	ch, err = s.insert(ctx, shardID, channels)
	if err == nil {
		return ch, nil
	}

	// Lost a race on the primary key, or a real failure
	existing, found, getErr := s.get(ctx, shardID)
	if getErr == nil && found {
		return existing, nil
	}
	return 0, errors.Join(fmt.Errorf("assignment: record shard %q: %w", shardID, err), getErr)
}

func (s *SQLStore) get(ctx context.Context, shardID string) (int, bool, error) {
	var ch int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT channel FROM %s WHERE shard_id = %s", s.table, s.ph(1)),
		shardID,
	).Scan(&ch)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("assignment: lookup shard %q: %w", shardID, err)
	}
	return ch, true, nil
}

func (s *SQLStore) insert(ctx context.Context, shardID string, channels int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var count int64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&count); err != nil {
		return 0, err
	}
	ch := int(count % int64(channels))

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (shard_id, channel) VALUES (%s, %s)", s.table, s.ph(1), s.ph(2)),
		shardID, ch,
	)
	if err != nil {
		return 0, err
	}
	return ch, tx.Commit()
}

// List returns every recorded assignment.
func (s *SQLStore) List(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT shard_id, channel FROM %s", s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var shard string
		var ch int
		if err := rows.Scan(&shard, &ch); err != nil {
			return nil, err
		}
		out[shard] = ch
	}
	return out, rows.Err()
}

// Reset removes all assignments.
func (s *SQLStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM "+s.table)
	return err
}

// Compile-time check
var _ Store = (*SQLStore)(nil)
