package activity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"context-capture/internal/config"
	"context-capture/pkg/logging"
)

// fakeFactory 可编程打分的测试工厂
type fakeFactory struct {
	id        string
	score     MatchScore
	createErr error
}

func (f *fakeFactory) SupportsProcess(processName, windowTitle string) MatchScore {
	return f.score
}

func (f *fakeFactory) CreateStrategy(ctx context.Context, pctx ProcessContext) (Strategy, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &fakeStrategy{id: f.id, pctx: pctx}, nil
}

func (f *fakeFactory) Metadata() StrategyMetadata {
	return StrategyMetadata{ID: f.id, Name: f.id, Version: "0.0.1"}
}

type fakeStrategy struct {
	id   string
	pctx ProcessContext
}

func (s *fakeStrategy) Name() string        { return s.id }
func (s *fakeStrategy) Icon() string        { return "" }
func (s *fakeStrategy) ProcessName() string { return s.pctx.ProcessName }

func (s *fakeStrategy) RetrieveAssets(ctx context.Context) ([]Asset, error) {
	return nil, nil
}

func (s *fakeStrategy) RetrieveSnapshots(ctx context.Context) ([]Snapshot, error) {
	return nil, nil
}

func (s *fakeStrategy) GatherState() string { return "{}" }

func newTestRegistry(t *testing.T, cfg config.ActivityConfig) *StrategyRegistry {
	t.Helper()
	store, err := config.NewStore(cfg)
	require.NoError(t, err)
	return NewStrategyRegistry(store, logging.Default("activity-test"), nil)
}

func TestStrategyRegistry_SelectStrategy(t *testing.T) {
	ctx := context.Background()

	t.Run("最高分工厂胜出", func(t *testing.T) {
		r := newTestRegistry(t, config.DefaultActivityConfig())
		r.RegisterFactory(&fakeFactory{id: "medium", score: MatchMedium})
		r.RegisterFactory(&fakeFactory{id: "high", score: MatchHigh})

		s, err := r.SelectStrategy(ctx, ProcessContext{ProcessName: "chrome"})
		require.NoError(t, err)
		assert.Equal(t, "high", s.Name())
	})

	t.Run("同分时最早注册者胜出", func(t *testing.T) {
		r := newTestRegistry(t, config.DefaultActivityConfig())
		r.RegisterFactory(&fakeFactory{id: "first", score: MatchHigh})
		r.RegisterFactory(&fakeFactory{id: "second", score: MatchHigh})

		s, err := r.SelectStrategy(ctx, ProcessContext{ProcessName: "chrome"})
		require.NoError(t, err)
		assert.Equal(t, "first", s.Name())
	})

	t.Run("全部不匹配时回退兜底策略", func(t *testing.T) {
		r := newTestRegistry(t, config.DefaultActivityConfig())
		r.RegisterFactory(&fakeFactory{id: "never", score: NoMatch})

		s, err := r.SelectStrategy(ctx, ProcessContext{ProcessName: "sshd", DisplayName: "sshd"})
		require.NoError(t, err)
		assets, err := s.RetrieveAssets(ctx)
		require.NoError(t, err)
		require.Len(t, assets, 1)
		assert.Equal(t, AssetDefault, assets[0].Type())
	})

	t.Run("构造失败向上传播而非回退", func(t *testing.T) {
		r := newTestRegistry(t, config.DefaultActivityConfig())
		wantErr := errors.New("missing permission")
		r.RegisterFactory(&fakeFactory{id: "broken", score: MatchPerfect, createErr: wantErr})

		_, err := r.SelectStrategy(ctx, ProcessContext{ProcessName: "chrome"})
		assert.ErrorIs(t, err, wantErr)
	})

	t.Run("空进程名拒绝选择", func(t *testing.T) {
		r := newTestRegistry(t, config.DefaultActivityConfig())
		_, err := r.SelectStrategy(ctx, ProcessContext{})
		assert.Error(t, err)
	})

	t.Run("忽略清单中的应用直接走兜底", func(t *testing.T) {
		cfg := config.DefaultActivityConfig()
		cfg.Global.Privacy.IgnoredApplications = []string{"keepassxc"}
		r := newTestRegistry(t, cfg)
		r.RegisterFactory(&fakeFactory{id: "greedy", score: MatchPerfect})

		s, err := r.SelectStrategy(ctx, ProcessContext{ProcessName: "keepassxc"})
		require.NoError(t, err)
		assets, err := s.RetrieveAssets(ctx)
		require.NoError(t, err)
		require.Len(t, assets, 1)
		assert.Equal(t, AssetDefault, assets[0].Type())
	})
}

func TestStrategyRegistry_SelectionCache(t *testing.T) {
	ctx := context.Background()

	t.Run("同进程重复选择命中缓存", func(t *testing.T) {
		r := newTestRegistry(t, config.DefaultActivityConfig())
		r.RegisterFactory(&fakeFactory{id: "stable", score: MatchHigh})

		s1, err := r.SelectStrategy(ctx, ProcessContext{ProcessName: "chrome"})
		require.NoError(t, err)
		r.mu.Lock()
		_, cached := r.cache["chrome"]
		r.mu.Unlock()
		assert.True(t, cached)

		s2, err := r.SelectStrategy(ctx, ProcessContext{ProcessName: "chrome"})
		require.NoError(t, err)
		assert.Equal(t, s1.Name(), s2.Name())
	})

	t.Run("注册新工厂清空缓存", func(t *testing.T) {
		r := newTestRegistry(t, config.DefaultActivityConfig())
		r.RegisterFactory(&fakeFactory{id: "old", score: MatchMedium})

		_, err := r.SelectStrategy(ctx, ProcessContext{ProcessName: "chrome"})
		require.NoError(t, err)

		r.RegisterFactory(&fakeFactory{id: "better", score: MatchPerfect})
		r.mu.Lock()
		assert.Empty(t, r.cache)
		r.mu.Unlock()

		s, err := r.SelectStrategy(ctx, ProcessContext{ProcessName: "chrome"})
		require.NoError(t, err)
		assert.Equal(t, "better", s.Name())
	})
}

func TestDefaultRegistrySingleton(t *testing.T) {
	ResetDefaultRegistry()
	t.Cleanup(ResetDefaultRegistry)

	t.Run("重复访问得到同一实例", func(t *testing.T) {
		assert.Same(t, DefaultRegistry(), DefaultRegistry())
	})

	t.Run("便捷入口走单例选择", func(t *testing.T) {
		s, err := SelectStrategyForProcess(context.Background(), "sshd", "sshd", "")
		require.NoError(t, err)
		assert.Equal(t, "sshd", s.ProcessName())
	})

	t.Run("替换后便捷入口命中新实例", func(t *testing.T) {
		r := newTestRegistry(t, config.DefaultActivityConfig())
		r.RegisterFactory(&fakeFactory{id: "special", score: MatchPerfect})
		SetDefaultRegistry(r)

		s, err := SelectStrategyForProcess(context.Background(), "anything", "", "")
		require.NoError(t, err)
		assert.Equal(t, "special", s.Name())
	})
}

func TestStrategyRegistry_Metadatas(t *testing.T) {
	r := newTestRegistry(t, config.DefaultActivityConfig())
	r.RegisterFactory(&fakeFactory{id: "extra", score: MatchLow})

	metas := r.Metadatas()
	require.Len(t, metas, 2)
	assert.Equal(t, "default", metas[0].ID)
	assert.Equal(t, "extra", metas[1].ID)

	t.Run("按标识查找", func(t *testing.T) {
		meta, ok := r.Metadata("extra")
		require.True(t, ok)
		assert.Equal(t, "extra", meta.ID)

		_, ok = r.Metadata("nonexistent")
		assert.False(t, ok)
	})
}
