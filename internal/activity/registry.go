package activity

import (
	"context"
	"fmt"
	"sync"

	"github.com/containerd/errdefs"

	"context-capture/internal/config"
	"context-capture/pkg/logging"
)

// StrategyRegistry 策略工厂的注册与最优匹配选择
//
// 工厂列表与选择缓存都由互斥锁保护，注册与选择互斥。锁只围住
// 表项操作，工厂的 CreateStrategy 在锁外执行，不会跨 I/O 持锁。
type StrategyRegistry struct {
	logger  *logging.Logger
	cfg     *config.Store
	metrics *Metrics

	mu        sync.Mutex
	factories []StrategyFactory
	// 进程名到工厂下标的选择缓存，注册新工厂时整体失效
	cache map[string]int
}

// NewStrategyRegistry 构造注册表并内置兜底工厂
//
// 兜底工厂对任何输入至少返回 MatchLow，保证合法进程的选择
// 永不失败。
func NewStrategyRegistry(cfg *config.Store, logger *logging.Logger, metrics *Metrics) *StrategyRegistry {
	r := &StrategyRegistry{
		logger:  logger,
		cfg:     cfg,
		metrics: metrics,
		cache:   make(map[string]int),
	}
	r.RegisterFactory(NewDefaultFactory(cfg))
	return r
}

// RegisterFactory 追加工厂并清空选择缓存
//
// 不约束标识唯一性，相同标识后注册者在选择时因得分相同而
// 输给先注册者。
func (r *StrategyRegistry) RegisterFactory(f StrategyFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = append(r.factories, f)
	r.cache = make(map[string]int)
	r.logger.Info("策略工厂已注册", "strategy_id", f.Metadata().ID, "total", len(r.factories))
}

// Metadatas 返回全部已注册工厂的静态描述
func (r *StrategyRegistry) Metadatas() []StrategyMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StrategyMetadata, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f.Metadata())
	}
	return out
}

// Metadata 按标识查找工厂的静态描述
func (r *StrategyRegistry) Metadata(id string) (StrategyMetadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.factories {
		if meta := f.Metadata(); meta.ID == id {
			return meta, true
		}
	}
	return StrategyMetadata{}, false
}

// SelectStrategy 为焦点进程挑选并构造策略
//
// 遍历全部工厂取严格最高分，得分相同时最早注册者胜出；被隐私
// 配置忽略的应用直接走兜底工厂。构造失败向上传播，由调用方
// 决定是否改用兜底重试。
func (r *StrategyRegistry) SelectStrategy(ctx context.Context, pctx ProcessContext) (Strategy, error) {
	if pctx.ProcessName == "" {
		return nil, fmt.Errorf("process name is empty: %w", errdefs.ErrInvalidArgument)
	}

	factory, err := r.pickFactory(pctx)
	if err != nil {
		return nil, err
	}

	meta := factory.Metadata()
	strategy, err := factory.CreateStrategy(ctx, pctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.SelectionErrors.WithLabelValues(meta.ID).Inc()
		}
		return nil, fmt.Errorf("creating strategy %q for process %q: %w", meta.ID, pctx.ProcessName, err)
	}
	if r.metrics != nil {
		r.metrics.Selections.WithLabelValues(meta.ID).Inc()
	}
	return strategy, nil
}

// pickFactory 打分选出获胜工厂，持锁完成全部表项操作
func (r *StrategyRegistry) pickFactory(pctx ProcessContext) (StrategyFactory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.factories) == 0 {
		return nil, fmt.Errorf("no strategy factory registered: %w", errdefs.ErrFailedPrecondition)
	}

	// 被忽略的应用始终使用内置兜底工厂（下标 0）
	if !r.cfg.Current().IsApplicationEnabled(pctx.ProcessName) {
		r.logger.WithProcess(pctx.ProcessName).Debug("应用在忽略清单中，使用兜底策略")
		return r.factories[0], nil
	}

	if idx, ok := r.cache[pctx.ProcessName]; ok {
		return r.factories[idx], nil
	}

	best := -1
	bestScore := NoMatch
	for i, f := range r.factories {
		score := f.SupportsProcess(pctx.ProcessName, pctx.WindowTitle)
		// 严格大于：同分时最早注册者保持获胜
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 {
		// 兜底工厂保证至少 MatchLow，走到这里说明注册表被破坏
		return nil, fmt.Errorf("no factory matched process %q: %w", pctx.ProcessName, errdefs.ErrFailedPrecondition)
	}

	r.cache[pctx.ProcessName] = best
	r.logger.SelectionLog(pctx.ProcessName, r.factories[best].Metadata().ID, float64(bestScore))
	return r.factories[best], nil
}

// 进程级单例注册表
var (
	defaultRegistry   *StrategyRegistry
	defaultRegistryMu sync.Mutex
)

// DefaultRegistry 懒初始化的进程级注册表
//
// 首次调用时以默认配置创建，随进程存活。
func DefaultRegistry() *StrategyRegistry {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	if defaultRegistry == nil {
		store, err := config.NewStore(config.DefaultActivityConfig())
		if err != nil {
			// 默认配置必须合法，加载失败属于编程错误
			panic(fmt.Sprintf("default activity config invalid: %v", err))
		}
		defaultRegistry = NewStrategyRegistry(store, logging.Default("activity"), nil)
	}
	return defaultRegistry
}

// SetDefaultRegistry 替换进程级注册表，装配阶段使用
func SetDefaultRegistry(r *StrategyRegistry) {
	defaultRegistryMu.Lock()
	defaultRegistry = r
	defaultRegistryMu.Unlock()
}

// ResetDefaultRegistry 清空单例，下次访问重建，测试隔离用
func ResetDefaultRegistry() {
	SetDefaultRegistry(nil)
}

// SelectStrategyForProcess 针对单例注册表的便捷选择入口
func SelectStrategyForProcess(ctx context.Context, name, displayName, icon string) (Strategy, error) {
	return DefaultRegistry().SelectStrategy(ctx, ProcessContext{
		ProcessName: name,
		DisplayName: displayName,
		Icon:        icon,
	})
}
