package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/durableflow/internal/database"
	"github.com/BaSui01/durableflow/journal"
)

// invocationRecord is the gorm model backing SQLArchive. Entries are
// stored as a JSON blob rather than normalized rows: a journal is
// read and written whole, never queried entry-by-entry, so there is
// no benefit to a join.
type invocationRecord struct {
	InvocationID string `gorm:"primaryKey;column:invocation_id"`
	ServiceName  string `gorm:"index;column:service_name"`
	HandlerName  string `gorm:"column:handler_name"`
	Key          string `gorm:"column:key"`
	ArchivedAt   time.Time `gorm:"index;column:archived_at"`
	Entries      []byte    `gorm:"column:entries"`
}

func (invocationRecord) TableName() string { return "invocation_archive" }

// SQLArchive persists invocation records through gorm, portable across
// the postgres, mysql and sqlite drivers the caller dials up. The
// connection itself is managed by a database.PoolManager so archiving
// traffic gets the same idle/open connection limits, health-check loop
// and deadlock/serialization retry behavior as any other production
// gorm user of this codebase, rather than a bare unmanaged *gorm.DB.
type SQLArchive struct {
	pool     *database.PoolManager
	postgres bool
}

func NewSQLArchive(db *gorm.DB, logger *zap.Logger) (*SQLArchive, error) {
	if err := db.AutoMigrate(&invocationRecord{}); err != nil {
		return nil, fmt.Errorf("automigrate invocation archive: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := database.NewPoolManager(db, database.DefaultPoolConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("wrap invocation archive pool: %w", err)
	}
	return &SQLArchive{pool: pool, postgres: db.Name() == "postgres"}, nil
}

func (a *SQLArchive) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec.Entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	row := invocationRecord{
		InvocationID: rec.InvocationID,
		ServiceName:  rec.ServiceName,
		HandlerName:  rec.HandlerName,
		Key:          rec.Key,
		ArchivedAt:   rec.ArchivedAt,
		Entries:      data,
	}
	return a.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		return tx.Save(&row).Error
	})
}

func (a *SQLArchive) Get(ctx context.Context, invocationID string) (Record, error) {
	var row invocationRecord
	err := a.pool.DB().WithContext(ctx).First(&row, "invocation_id = ?", invocationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, &ErrNotFound{InvocationID: invocationID}
	}
	if err != nil {
		return Record{}, err
	}
	return rowToRecord(row)
}

func (a *SQLArchive) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	if a.postgres && (!opts.From.IsZero() || !opts.To.IsZero()) {
		return a.listTimeRangePgx(ctx, opts)
	}

	q := a.pool.DB().WithContext(ctx).Model(&invocationRecord{}).Order("archived_at asc")
	if opts.ServiceName != "" {
		q = q.Where("service_name = ?", opts.ServiceName)
	}
	if !opts.From.IsZero() {
		q = q.Where("archived_at >= ?", opts.From)
	}
	if !opts.To.IsZero() {
		q = q.Where("archived_at <= ?", opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var rows []invocationRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := rowToRecord(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// listTimeRangePgx serves the time-range scan by acquiring the pool's
// underlying *pgx.Conn directly and issuing a hand-written query,
// bypassing gorm's query builder. Archive reads are off the
// invocation hot path, so this exists purely so a time-range scan
// against a large archive table runs as a single indexed range query
// instead of gorm's generic WHERE-chain SQL — only reachable on
// postgres, since it speaks pgx's wire protocol directly.
func (a *SQLArchive) listTimeRangePgx(ctx context.Context, opts ListOptions) ([]Record, error) {
	sqlDB, err := a.pool.DB().DB()
	if err != nil {
		return nil, fmt.Errorf("acquire sql.DB for time-range scan: %w", err)
	}
	conn, err := stdlib.AcquireConn(sqlDB)
	if err != nil {
		return nil, fmt.Errorf("acquire pgx connection: %w", err)
	}
	defer func() { _ = stdlib.ReleaseConn(sqlDB, conn) }()

	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !opts.From.IsZero() {
		clauses = append(clauses, "archived_at >= "+arg(opts.From))
	}
	if !opts.To.IsZero() {
		clauses = append(clauses, "archived_at <= "+arg(opts.To))
	}
	if opts.ServiceName != "" {
		clauses = append(clauses, "service_name = "+arg(opts.ServiceName))
	}

	query := `SELECT invocation_id, service_name, handler_name, "key", archived_at, entries FROM invocation_archive`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY archived_at ASC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("raw time-range scan: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var row invocationRecord
		if err := rows.Scan(&row.InvocationID, &row.ServiceName, &row.HandlerName, &row.Key, &row.ArchivedAt, &row.Entries); err != nil {
			return nil, fmt.Errorf("scan time-range row: %w", err)
		}
		rec, err := rowToRecord(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (a *SQLArchive) Delete(ctx context.Context, invocationID string) error {
	res := a.pool.DB().WithContext(ctx).Delete(&invocationRecord{}, "invocation_id = ?", invocationID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &ErrNotFound{InvocationID: invocationID}
	}
	return nil
}

// Stats exposes the underlying connection pool's statistics, e.g. for
// a metrics scrape or an operator health endpoint.
func (a *SQLArchive) Stats() database.PoolStats {
	return a.pool.GetStats()
}

func (a *SQLArchive) Close() error {
	return a.pool.Close()
}

func rowToRecord(row invocationRecord) (Record, error) {
	var entries []journal.Entry
	if err := json.Unmarshal(row.Entries, &entries); err != nil {
		return Record{}, fmt.Errorf("unmarshal entries: %w", err)
	}
	return Record{
		InvocationID: row.InvocationID,
		ServiceName:  row.ServiceName,
		HandlerName:  row.HandlerName,
		Key:          row.Key,
		ArchivedAt:   row.ArchivedAt,
		Entries:      entries,
	}, nil
}

var _ Archive = (*SQLArchive)(nil)
