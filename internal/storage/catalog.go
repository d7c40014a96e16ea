package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	_ "modernc.org/sqlite"
)

// Catalog 保存记录的 SQLite 目录库
//
// 按摘要索引已保存的资产，支撑按摘要读回与按类型列举。目录库
// 是文件存储之上的加速索引，丢失后可以从目录树重建。
type Catalog struct {
	db *sql.DB
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS saved_assets (
	content_hash TEXT PRIMARY KEY,
	file_path    TEXT NOT NULL,
	asset_type   TEXT NOT NULL,
	file_size    INTEGER NOT NULL,
	mime_type    TEXT NOT NULL,
	saved_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_saved_assets_type ON saved_assets(asset_type);
`

// OpenCatalog 打开或创建目录库
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog %q: %w", path, err)
	}
	// 本地单进程访问，单连接避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(catalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Record 登记或更新一条保存记录
func (c *Catalog) Record(ctx context.Context, info *SavedAssetInfo, assetType string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO saved_assets (content_hash, file_path, asset_type, file_size, mime_type, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			file_path = excluded.file_path,
			file_size = excluded.file_size,
			saved_at  = excluded.saved_at`,
		info.ContentHash, info.FilePath, assetType, info.FileSize, info.MimeType,
		info.SavedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording asset %s: %w", info.ContentHash, err)
	}
	return nil
}

// Lookup 按摘要查找保存记录
func (c *Catalog) Lookup(ctx context.Context, hash string) (*SavedAssetInfo, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT content_hash, file_path, file_size, mime_type, saved_at
		FROM saved_assets WHERE content_hash = ?`, hash)
	info, err := scanInfo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("asset %s: %w", hash, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("looking up asset %s: %w", hash, err)
	}
	return info, nil
}

// ListByType 按资产类型列举保存记录，新者在前
func (c *Catalog) ListByType(ctx context.Context, assetType string, limit int) ([]*SavedAssetInfo, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT content_hash, file_path, file_size, mime_type, saved_at
		FROM saved_assets WHERE asset_type = ?
		ORDER BY saved_at DESC LIMIT ?`, assetType, limit)
	if err != nil {
		return nil, fmt.Errorf("listing assets of type %q: %w", assetType, err)
	}
	defer rows.Close()

	var out []*SavedAssetInfo
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close 关闭目录库
func (c *Catalog) Close() error {
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInfo(row rowScanner) (*SavedAssetInfo, error) {
	var info SavedAssetInfo
	var savedAt string
	if err := row.Scan(&info.ContentHash, &info.FilePath, &info.FileSize, &info.MimeType, &savedAt); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing saved_at %q: %w", savedAt, err)
	}
	info.SavedAt = t
	return &info, nil
}
