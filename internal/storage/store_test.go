package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"context-capture/internal/activity"
	"context-capture/internal/config"
	"context-capture/pkg/logging"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(config.StorageConfig{
		BaseDir:        t.TempDir(),
		UseContentHash: true,
		OrganizeByType: true,
	}, logging.Default("storage-test"), opts...)
	require.NoError(t, err)
	return s
}

// fixedAsset 序列化结果稳定的测试资产
type fixedAsset struct {
	AssetID string `json:"id"`
	Body    string `json:"body"`
	name    string
	kind    activity.AssetType
}

func (a *fixedAsset) ID() string                  { return a.AssetID }
func (a *fixedAsset) Name() string                { return a.name }
func (a *fixedAsset) Icon() string                { return "" }
func (a *fixedAsset) Type() activity.AssetType    { return a.kind }
func (a *fixedAsset) Message() string             { return a.Body }
func (a *fixedAsset) Chip() *activity.ContextChip { return nil }

func TestStore_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("按类型分目录且路径含摘要前缀", func(t *testing.T) {
		s := newTestStore(t)
		info, err := s.Save(ctx, &fixedAsset{AssetID: "a1", Body: "hello", name: "My Video", kind: activity.AssetYoutube})
		require.NoError(t, err)

		assert.Equal(t, "youtube", filepath.Dir(info.FilePath))
		base := filepath.Base(info.FilePath)
		assert.True(t, strings.HasPrefix(base, info.ContentHash[:16]+"_"), "文件名 %q 应以摘要前缀开头", base)
		assert.True(t, strings.HasSuffix(base, ".json"))
		assert.Equal(t, "application/json", info.MimeType)
		assert.Len(t, info.ContentHash, 64)
		assert.FileExists(t, info.AbsolutePath)
	})

	t.Run("重复保存返回相同路径且不再写盘", func(t *testing.T) {
		s := newTestStore(t)
		asset := &fixedAsset{AssetID: "a1", Body: "same content", name: "n", kind: activity.AssetArticle}

		first, err := s.Save(ctx, asset)
		require.NoError(t, err)
		require.EqualValues(t, 1, s.WriteCount())

		second, err := s.Save(ctx, asset)
		require.NoError(t, err)
		assert.Equal(t, first.ContentHash, second.ContentHash)
		assert.Equal(t, first.FilePath, second.FilePath)
		assert.EqualValues(t, 1, s.WriteCount(), "去重命中不应产生第二次写入")
	})

	t.Run("并发保存相同内容收敛到同一文件", func(t *testing.T) {
		s := newTestStore(t)
		asset := &fixedAsset{AssetID: "a1", Body: "racy", name: "n", kind: activity.AssetArticle}

		const n = 8
		infos := make([]*SavedAssetInfo, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				info, err := s.Save(ctx, asset)
				assert.NoError(t, err)
				infos[i] = info
			}()
		}
		wg.Wait()

		for i := 1; i < n; i++ {
			assert.Equal(t, infos[0].ContentHash, infos[i].ContentHash)
			assert.Equal(t, infos[0].FilePath, infos[i].FilePath)
		}
		assert.EqualValues(t, 1, s.WriteCount())
	})

	t.Run("摘要对相同内容稳定", func(t *testing.T) {
		s := newTestStore(t)
		a := &fixedAsset{AssetID: "x", Body: "identical", name: "n", kind: activity.AssetPdf}
		b := &fixedAsset{AssetID: "x", Body: "identical", name: "n", kind: activity.AssetPdf}

		infoA, err := s.Save(ctx, a)
		require.NoError(t, err)
		infoB, err := s.Save(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, infoA.ContentHash, infoB.ContentHash)
	})

	t.Run("超过大小上限拒绝保存", func(t *testing.T) {
		s, err := NewStore(config.StorageConfig{
			BaseDir:     t.TempDir(),
			MaxFileSize: 16,
		}, logging.Default("storage-test"))
		require.NoError(t, err)

		_, err = s.Save(ctx, &fixedAsset{AssetID: "big", Body: strings.Repeat("x", 1024), name: "n", kind: activity.AssetArticle})
		assert.Error(t, err)
	})
}

func TestStore_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("读回的明文与保存时一致", func(t *testing.T) {
		s := newTestStore(t)
		asset := &fixedAsset{AssetID: "a1", Body: "payload", name: "n", kind: activity.AssetArticle}
		info, err := s.Save(ctx, asset)
		require.NoError(t, err)

		data, err := s.Load(info.FilePath)
		require.NoError(t, err)
		var got fixedAsset
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "payload", got.Body)
	})

	t.Run("逃逸路径拒绝读取", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Load("../../etc/passwd")
		assert.Error(t, err)
	})

	t.Run("缺失文件报未找到", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Load("article/nonexistent.json")
		assert.Error(t, err)
	})
}

func TestStore_SaveActivity(t *testing.T) {
	ctx := context.Background()

	t.Run("全部成功返回全部信息", func(t *testing.T) {
		s := newTestStore(t)
		act := &activity.Activity{
			Name:        "浏览",
			ProcessName: "chrome",
			Assets: []activity.Asset{
				&fixedAsset{AssetID: "1", Body: "a", name: "one", kind: activity.AssetArticle},
				&fixedAsset{AssetID: "2", Body: "b", name: "two", kind: activity.AssetYoutube},
			},
		}
		infos, err := s.SaveActivity(ctx, act, false)
		require.NoError(t, err)
		assert.Len(t, infos, 2)
	})

	t.Run("默认首个失败即中止并返回部分结果", func(t *testing.T) {
		s, err := NewStore(config.StorageConfig{
			BaseDir:     t.TempDir(),
			MaxFileSize: 32,
		}, logging.Default("storage-test"))
		require.NoError(t, err)

		act := &activity.Activity{Assets: []activity.Asset{
			&fixedAsset{AssetID: "1", Body: "ok", name: "one", kind: activity.AssetArticle},
			&fixedAsset{AssetID: "2", Body: strings.Repeat("x", 256), name: "big", kind: activity.AssetArticle},
			&fixedAsset{AssetID: "3", Body: "never", name: "three", kind: activity.AssetArticle},
		}}
		infos, err := s.SaveActivity(ctx, act, false)
		assert.Error(t, err)
		assert.Len(t, infos, 1)
	})

	t.Run("显式续跑时跳过失败项", func(t *testing.T) {
		s, err := NewStore(config.StorageConfig{
			BaseDir:     t.TempDir(),
			MaxFileSize: 32,
		}, logging.Default("storage-test"))
		require.NoError(t, err)

		act := &activity.Activity{Assets: []activity.Asset{
			&fixedAsset{AssetID: "1", Body: "ok", name: "one", kind: activity.AssetArticle},
			&fixedAsset{AssetID: "2", Body: strings.Repeat("x", 256), name: "big", kind: activity.AssetArticle},
			&fixedAsset{AssetID: "3", Body: "also ok", name: "three", kind: activity.AssetArticle},
		}}
		infos, err := s.SaveActivity(ctx, act, true)
		assert.Error(t, err)
		assert.Len(t, infos, 2)
	})
}

func TestStore_SaveAssetsByID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := &fixedAsset{AssetID: "keep-1", Body: "a", name: "one", kind: activity.AssetArticle}
	b := &fixedAsset{AssetID: "skip", Body: "b", name: "two", kind: activity.AssetArticle}
	c := &fixedAsset{AssetID: "keep-2", Body: "c", name: "three", kind: activity.AssetArticle}
	act := &activity.Activity{Assets: []activity.Asset{a, b, c}}

	infos, err := s.SaveAssetsByID(ctx, act, []string{"keep-1", "keep-2", "missing"})
	require.NoError(t, err)
	assert.Len(t, infos, 2)
	assert.EqualValues(t, 2, s.WriteCount())
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"空格转下划线", "My Great Video", "My_Great_Video"},
		{"路径分隔符替换", "a/b\\c", "a_b_c"},
		{"特殊字符替换", "hello: world?", "hello__world_"},
		{"空名回退", "", "asset"},
		{"超长截断", strings.Repeat("a", 200), strings.Repeat("a", 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFilename(tt.in))
		})
	}
}
