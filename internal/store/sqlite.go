// Package store persists collections, items, users and shares in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/user/collectbot/internal/store/migrations"
	"github.com/user/collectbot/internal/types"
)

// SQLite implements types.Store. Lookups of missing rows return nil, nil.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to the database at path (or ":memory:") and applies
// pending migrations.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &SQLite{db: db, now: time.Now}
	version, err := s.SchemaVersion()
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("database ready", "path", path, "schema_version", version)
	return s, nil
}

// SchemaVersion returns the applied migration version. A database left
// dirty by an interrupted migration is an error.
func (s *SQLite) SchemaVersion() (uint, error) {
	version, dirty, err := migrations.Version(s.db)
	if err != nil {
		return 0, err
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

// Close closes the underlying connection pool.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Collection operations

func (s *SQLite) CreateCollection(ctx context.Context, owner types.UserID, name string) (types.CollectionID, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO collections (name, owner_id, created_at) VALUES (?, ?, ?)",
		name, int64(owner), s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("create collection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create collection: %w", err)
	}
	return types.CollectionID(id), nil
}

func (s *SQLite) Collection(ctx context.Context, id types.CollectionID) (*types.Collection, error) {
	c := &types.Collection{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, owner_id FROM collections WHERE id = ?", int64(id)).
		Scan(&c.ID, &c.Name, &c.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return c, nil
}

func (s *SQLite) Collections(ctx context.Context, owner types.UserID) ([]*types.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, owner_id FROM collections WHERE owner_id = ? ORDER BY id", int64(owner))
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []*types.Collection
	for rows.Next() {
		c := &types.Collection{}
		if err := rows.Scan(&c.ID, &c.Name, &c.OwnerID); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCollection removes a collection; items and its share cascade.
func (s *SQLite) DeleteCollection(ctx context.Context, id types.CollectionID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM collections WHERE id = ?", int64(id)); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

// Item operations

const itemColumns = "id, collection_id, kind, handle, text, file_name, file_size, added_at"

func scanItem(row interface{ Scan(...any) error }) (*types.Item, error) {
	it := &types.Item{}
	var kind string
	var added int64
	if err := row.Scan(&it.ID, &it.CollectionID, &kind, &it.Handle, &it.Text, &it.FileName, &it.FileSize, &added); err != nil {
		return nil, err
	}
	it.Kind = types.Kind(kind)
	it.AddedAt = time.Unix(added, 0).UTC()
	return it, nil
}

// AddItem inserts item and sets its ID and AddedAt.
func (s *SQLite) AddItem(ctx context.Context, item *types.Item) (types.ItemID, error) {
	if item.AddedAt.IsZero() {
		item.AddedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO items (collection_id, kind, handle, text, file_name, file_size, added_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		int64(item.CollectionID), string(item.Kind), item.Handle, item.Text, item.FileName, item.FileSize, item.AddedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("add item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add item: %w", err)
	}
	item.ID = types.ItemID(id)
	return item.ID, nil
}

func (s *SQLite) Item(ctx context.Context, id types.ItemID) (*types.Item, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", int64(id))
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

// Items returns up to limit items of a collection ordered by id, starting
// at offset. A limit of zero or less returns every remaining item.
func (s *SQLite) Items(ctx context.Context, coll types.CollectionID, offset, limit int) ([]*types.Item, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM items WHERE collection_id = ? ORDER BY id LIMIT ? OFFSET ?",
		int64(coll), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []*types.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLite) CountItems(ctx context.Context, coll types.CollectionID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE collection_id = ?", int64(coll)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// HasItem reports whether the collection already holds content with the
// same handle and size.
func (s *SQLite) HasItem(ctx context.Context, coll types.CollectionID, handle string, size int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM items WHERE collection_id = ? AND handle = ? AND file_size = ?",
		int64(coll), handle, size).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check item: %w", err)
	}
	return n > 0, nil
}

// DeleteItemByHandle removes the oldest item with handle from the
// collection and reports whether one existed.
func (s *SQLite) DeleteItemByHandle(ctx context.Context, coll types.CollectionID, handle string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM items WHERE id = (SELECT id FROM items WHERE collection_id = ? AND handle = ? ORDER BY id LIMIT 1)",
		int64(coll), handle)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	return n > 0, nil
}

// User operations

// UpsertUser records a user, keeping the original first-seen time.
func (s *SQLite) UpsertUser(ctx context.Context, u *types.User) error {
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, first_name, last_name, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			last_seen = excluded.last_seen`,
		int64(u.ID), u.Username, u.FirstName, u.LastName, now, now)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLite) User(ctx context.Context, id types.UserID) (*types.User, error) {
	u := &types.User{}
	var first int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, first_name, last_name, first_seen FROM users WHERE id = ?", int64(id)).
		Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &first)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.FirstSeen = time.Unix(first, 0).UTC()
	return u, nil
}

// Share operations

// ShareCode returns the active share code of a collection, or "".
func (s *SQLite) ShareCode(ctx context.Context, coll types.CollectionID) (string, error) {
	var code string
	err := s.db.QueryRowContext(ctx,
		"SELECT code FROM shares WHERE collection_id = ? AND active = 1", int64(coll)).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get share code: %w", err)
	}
	return code, nil
}

// CreateShare sets the collection's share code, replacing any previous one.
func (s *SQLite) CreateShare(ctx context.Context, coll types.CollectionID, by types.UserID, code string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shares (collection_id, code, created_by, created_at, active)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (collection_id) DO UPDATE SET
			code = excluded.code,
			created_by = excluded.created_by,
			created_at = excluded.created_at,
			active = 1`,
		int64(coll), code, int64(by), s.now().Unix())
	if err != nil {
		return fmt.Errorf("create share: %w", err)
	}
	return nil
}

func (s *SQLite) RevokeShare(ctx context.Context, coll types.CollectionID) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE shares SET active = 0 WHERE collection_id = ?", int64(coll)); err != nil {
		return fmt.Errorf("revoke share: %w", err)
	}
	return nil
}

// CollectionByShareCode resolves an active share code.
func (s *SQLite) CollectionByShareCode(ctx context.Context, code string) (*types.Collection, error) {
	c := &types.Collection{}
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.name, c.owner_id FROM collections c
		JOIN shares s ON s.collection_id = c.id
		WHERE s.code = ? AND s.active = 1`, code).
		Scan(&c.ID, &c.Name, &c.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve share code: %w", err)
	}
	return c, nil
}

func (s *SQLite) LogShareAccess(ctx context.Context, code string, user types.UserID) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO share_access_log (code, user_id, accessed_at) VALUES (?, ?, ?)",
		code, int64(user), s.now().Unix())
	if err != nil {
		return fmt.Errorf("log share access: %w", err)
	}
	return nil
}

func (s *SQLite) ShareStats(ctx context.Context, code string) (*types.ShareStats, error) {
	st := &types.ShareStats{Code: code}
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT user_id), MAX(accessed_at) FROM share_access_log WHERE code = ?", code).
		Scan(&st.TotalAccesses, &st.UniqueUsers, &last)
	if err != nil {
		return nil, fmt.Errorf("share stats: %w", err)
	}
	if last.Valid {
		st.LastAccess = time.Unix(last.Int64, 0).UTC()
	}
	return st, nil
}

var _ types.Store = (*SQLite)(nil)
