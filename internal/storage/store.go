// Package storage 实现资产的内容寻址持久化
//
// 序列化后的资产按 SHA-256 摘要寻址，相同内容只落盘一次。写入
// 采用临时文件加重命名保证原子性，去重检查与写入在每哈希的
// 临界区内完成，并发保存相同内容收敛到同一文件。
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/errdefs"

	"context-capture/internal/activity"
	"context-capture/internal/config"
	"context-capture/pkg/logging"
)

// 文件名中摘要前缀的长度
const hashPrefixLen = 16

// 净化后文件名的最大长度
const maxNameLen = 64

// SavedAssetInfo 一次保存的结果，不可变
//
// FilePath 是交给外部持久库记录的相对路径契约，ContentHash
// 供去重查询。
type SavedAssetInfo struct {
	FilePath     string    `json:"file_path"`
	AbsolutePath string    `json:"absolute_path"`
	ContentHash  string    `json:"content_hash"`
	FileSize     int64     `json:"file_size"`
	SavedAt      time.Time `json:"saved_at"`
	MimeType     string    `json:"mime_type"`
}

// Store 内容寻址的资产文件存储
type Store struct {
	cfg     config.StorageConfig
	logger  *logging.Logger
	enc     *Encryptor
	catalog *Catalog
	mirror  *Mirror

	// 每哈希互斥锁，保护检查后写入的临界区
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// 实际落盘次数，去重命中不计入
	writes atomic.Int64
}

// Option 配置存储的可选能力
type Option func(*Store)

// WithEncryptor 启用静态加密
func WithEncryptor(enc *Encryptor) Option {
	return func(s *Store) { s.enc = enc }
}

// WithCatalog 启用保存记录目录库
func WithCatalog(c *Catalog) Option {
	return func(s *Store) { s.catalog = c }
}

// WithMirror 启用对象存储镜像
func WithMirror(m *Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// NewStore 构造存储并确保基础目录存在
func NewStore(cfg config.StorageConfig, logger *logging.Logger, opts ...Option) (*Store, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("storage base dir is empty: %w", errdefs.ErrInvalidArgument)
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir %q: %w", cfg.BaseDir, err)
	}
	s := &Store{
		cfg:    cfg,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save 序列化并持久化单个资产
//
// 摘要在加密前的明文字节上计算，结果对相同内容稳定。启用内容
// 寻址时同摘要文件已存在则直接返回既有信息，不再写入。
func (s *Store) Save(ctx context.Context, asset activity.Asset) (*SavedAssetInfo, error) {
	content, err := json.Marshal(asset)
	if err != nil {
		return nil, fmt.Errorf("serializing asset %q: %w", asset.ID(), err)
	}
	if s.cfg.MaxFileSize > 0 && int64(len(content)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("asset %q exceeds max file size (%d > %d): %w",
			asset.ID(), len(content), s.cfg.MaxFileSize, errdefs.ErrInvalidArgument)
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	relPath := s.relPath(asset, hash)
	absPath := filepath.Join(s.cfg.BaseDir, relPath)

	lock := s.hashLock(hash)
	lock.Lock()
	defer lock.Unlock()

	if s.cfg.UseContentHash {
		if fi, err := os.Stat(absPath); err == nil {
			s.logger.SaveLog(string(asset.Type()), hash, fi.Size(), true, nil)
			return &SavedAssetInfo{
				FilePath:     relPath,
				AbsolutePath: absPath,
				ContentHash:  hash,
				FileSize:     fi.Size(),
				SavedAt:      fi.ModTime().UTC(),
				MimeType:     "application/json",
			}, nil
		}
	}

	payload := content
	if s.enc != nil {
		payload, err = s.enc.Seal(content)
		if err != nil {
			return nil, fmt.Errorf("encrypting asset %q: %w", asset.ID(), err)
		}
	}

	if err := atomicWrite(absPath, payload); err != nil {
		s.logger.SaveLog(string(asset.Type()), hash, 0, false, err)
		return nil, err
	}
	s.writes.Add(1)

	info := &SavedAssetInfo{
		FilePath:     relPath,
		AbsolutePath: absPath,
		ContentHash:  hash,
		FileSize:     int64(len(payload)),
		SavedAt:      time.Now().UTC(),
		MimeType:     "application/json",
	}
	s.logger.SaveLog(string(asset.Type()), hash, info.FileSize, false, nil)

	if s.catalog != nil {
		if err := s.catalog.Record(ctx, info, string(asset.Type())); err != nil {
			// 目录库只是加速索引，记录失败不影响已落盘的文件
			s.logger.WithError(err).Warn("目录库记录失败", "hash", hash)
		}
	}
	if s.mirror != nil {
		s.mirror.UploadAsync(relPath, payload)
	}
	return info, nil
}

// SaveActivity 持久化活动的全部资产
//
// 默认首个失败即中止，返回已成功的部分与错误；continueOnError
// 为真时跳过失败项继续。
func (s *Store) SaveActivity(ctx context.Context, act *activity.Activity, continueOnError bool) ([]*SavedAssetInfo, error) {
	infos := make([]*SavedAssetInfo, 0, len(act.Assets))
	var firstErr error
	for _, asset := range act.Assets {
		info, err := s.Save(ctx, asset)
		if err != nil {
			if !continueOnError {
				return infos, err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		infos = append(infos, info)
	}
	return infos, firstErr
}

// SaveAssetsByID 只持久化活动中指定标识的资产
//
// 未命中的标识静默跳过，调用方通常持有用户勾选的子集。
func (s *Store) SaveAssetsByID(ctx context.Context, act *activity.Activity, ids []string) ([]*SavedAssetInfo, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	subset := &activity.Activity{
		Name:        act.Name,
		Icon:        act.Icon,
		ProcessName: act.ProcessName,
	}
	for _, asset := range act.Assets {
		if _, ok := wanted[asset.ID()]; ok {
			subset.Assets = append(subset.Assets, asset)
		}
	}
	return s.SaveActivity(ctx, subset, false)
}

// Load 按相对路径读回资产明文
func (s *Store) Load(relPath string) ([]byte, error) {
	absPath := filepath.Join(s.cfg.BaseDir, filepath.Clean(relPath))
	if !strings.HasPrefix(absPath, filepath.Clean(s.cfg.BaseDir)+string(os.PathSeparator)) {
		return nil, fmt.Errorf("path %q escapes storage dir: %w", relPath, errdefs.ErrInvalidArgument)
	}
	payload, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("asset file %q: %w", relPath, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("reading asset file %q: %w", relPath, err)
	}
	if s.enc != nil {
		plain, err := s.enc.Open(payload)
		if err != nil {
			return nil, fmt.Errorf("decrypting asset file %q: %w", relPath, err)
		}
		return plain, nil
	}
	return payload, nil
}

// LoadByHash 经目录库按摘要读回资产明文
func (s *Store) LoadByHash(ctx context.Context, hash string) ([]byte, error) {
	if s.catalog == nil {
		return nil, fmt.Errorf("catalog disabled: %w", errdefs.ErrFailedPrecondition)
	}
	info, err := s.catalog.Lookup(ctx, hash)
	if err != nil {
		return nil, err
	}
	return s.Load(info.FilePath)
}

// WriteCount 返回累计落盘次数，供去重验证使用
func (s *Store) WriteCount() int64 {
	return s.writes.Load()
}

func (s *Store) relPath(asset activity.Asset, hash string) string {
	name := fmt.Sprintf("%s_%s.json", hash[:hashPrefixLen], sanitizeFilename(asset.Name()))
	if s.cfg.OrganizeByType {
		return filepath.Join(string(asset.Type()), name)
	}
	return name
}

func (s *Store) hashLock(hash string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[hash]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[hash] = lock
	}
	return lock
}

// atomicWrite 临时文件写入后重命名，读者不会看到半写文件
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %q: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// sanitizeFilename 把显示名净化为安全的文件名片段
func sanitizeFilename(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteRune('_')
		default:
			// 非 ASCII 字符与路径分隔符一律替换
			sb.WriteRune('_')
		}
	}
	out := sb.String()
	if len(out) > maxNameLen {
		out = out[:maxNameLen]
	}
	if out == "" {
		out = "asset"
	}
	return out
}
