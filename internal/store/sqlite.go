package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/betbot/ordercore/internal/domain"
)

// SQLiteStore 基于 SQLite（modernc，纯 Go）的意图存储
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite 打开数据库文件并建表
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite store: path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "sqlite store: mkdir")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	db.SetMaxOpenConns(1) // SQLite：单连接
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infof("意图存储: sqlite path=%s", path)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS order_intents (
  id TEXT PRIMARY KEY,
  bot_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  direction TEXT NOT NULL,
  order_type TEXT NOT NULL,
  requesting_agent TEXT NOT NULL,
  created_at TEXT NOT NULL,
  expires_at TEXT NOT NULL,
  status TEXT NOT NULL,
  status_reason TEXT NOT NULL DEFAULT '',
  closed_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_order_intents_symbol_status ON order_intents(symbol, status);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return errors.Wrap(err, "sqlite store: migrate")
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// SaveIntent 按 ID upsert
func (s *SQLiteStore) SaveIntent(ctx context.Context, in domain.OrderIntent) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store: not opened")
	}
	if in.ID == "" {
		return errors.New("sqlite store: intent id is empty")
	}
	var closedAt sql.NullString
	if in.ClosedAt != nil {
		closedAt = sql.NullString{String: formatTime(*in.ClosedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO order_intents (id, bot_id, symbol, direction, order_type, requesting_agent, created_at, expires_at, status, status_reason, closed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  status_reason = excluded.status_reason,
  closed_at = excluded.closed_at,
  expires_at = excluded.expires_at;`,
		in.ID, in.BotID, in.Symbol, string(in.Direction), string(in.OrderType), in.RequestingAgent,
		formatTime(in.CreatedAt), formatTime(in.ExpiresAt), string(in.Status), in.StatusReason, closedAt,
	)
	return errors.Wrapf(err, "sqlite store: save %s", in.ID)
}

// DeleteIntent 删除；不存在不报错
func (s *SQLiteStore) DeleteIntent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store: not opened")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM order_intents WHERE id = ?;`, id)
	return errors.Wrapf(err, "sqlite store: delete %s", id)
}

// LoadIntents 读出全部意图（按创建时间）
func (s *SQLiteStore) LoadIntents(ctx context.Context) ([]domain.OrderIntent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite store: not opened")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, bot_id, symbol, direction, order_type, requesting_agent, created_at, expires_at, status, status_reason, closed_at
FROM order_intents ORDER BY created_at, id;`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: query intents")
	}
	defer rows.Close()

	var out []domain.OrderIntent
	for rows.Next() {
		var (
			in                   domain.OrderIntent
			dir, ot, status      string
			createdAt, expiresAt string
			closedAt             sql.NullString
		)
		if err := rows.Scan(&in.ID, &in.BotID, &in.Symbol, &dir, &ot, &in.RequestingAgent,
			&createdAt, &expiresAt, &status, &in.StatusReason, &closedAt); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan intent")
		}
		in.Direction = domain.Direction(dir)
		in.OrderType = domain.OrderType(ot)
		in.Status = domain.IntentStatus(status)
		if in.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, errors.Wrapf(err, "sqlite store: created_at of %s", in.ID)
		}
		if in.ExpiresAt, err = parseTime(expiresAt); err != nil {
			return nil, errors.Wrapf(err, "sqlite store: expires_at of %s", in.ID)
		}
		if closedAt.Valid {
			t, err := parseTime(closedAt.String)
			if err != nil {
				return nil, errors.Wrapf(err, "sqlite store: closed_at of %s", in.ID)
			}
			in.ClosedAt = &t
		}
		out = append(out, in)
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: iterate intents")
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
