package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/pkg/logger"
)

var databaseIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidDatabaseName reports whether name is a bare identifier usable as a
// database name by every engine.
func ValidDatabaseName(name string) bool {
	return databaseIdentifier.MatchString(name)
}

// DuckDBEngine runs queries against local DuckDB files, one file per
// database name, opened read-only. It stands in for Athena in development.
type DuckDBEngine struct {
	dir     string
	maxRows int
	open    func(dsn string) (*sql.DB, error)

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewDuckDBEngine(dir string, maxRows int) *DuckDBEngine {
	return &DuckDBEngine{
		dir:     dir,
		maxRows: maxRows,
		open: func(dsn string) (*sql.DB, error) {
			return sql.Open("duckdb", dsn)
		},
		dbs: make(map[string]*sql.DB),
	}
}

func (d *DuckDBEngine) Name() string {
	return "duckdb"
}

func (d *DuckDBEngine) Path(database string) string {
	return filepath.Join(d.dir, database+".duckdb")
}

func (d *DuckDBEngine) db(database string) (*sql.DB, error) {
	if !ValidDatabaseName(database) {
		return nil, &StatementError{Message: fmt.Sprintf("invalid database name %q", database)}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if db, ok := d.dbs[database]; ok {
		return db, nil
	}

	path := d.Path(database)
	db, err := d.open(path + "?access_mode=read_only")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb database %s: %w", path, err)
	}
	d.dbs[database] = db

	logger.Info("DuckDB database opened", zap.String("path", path))
	return db, nil
}

func (d *DuckDBEngine) Run(ctx context.Context, query, database string) (*Table, error) {
	db, err := d.db(database)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &StatementError{Message: err.Error()}
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}

	table := &Table{Columns: make([]Column, len(colTypes)), Rows: [][]any{}}
	for i, ct := range colTypes {
		typ := ct.DatabaseTypeName()
		table.Columns[i] = Column{Name: ct.Name(), Type: typ, Kind: KindOf(typ)}
	}

	for rows.Next() {
		if d.maxRows > 0 && len(table.Rows) >= d.maxRows {
			logger.Warn("Truncated query result", zap.String("database", database), zap.Int("max_rows", d.maxRows))
			break
		}

		values := make([]any, len(colTypes))
		pointers := make([]any, len(colTypes))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		table.Rows = append(table.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &StatementError{Message: err.Error()}
	}

	return table, nil
}

func (d *DuckDBEngine) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for name, db := range d.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.dbs, name)
	}
	return firstErr
}

// normalizeValue maps driver values onto the Table cell types.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int64, float64:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case *big.Int:
		return x.String()
	case interface{ Float64() float64 }:
		return x.Float64()
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
