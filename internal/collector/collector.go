// Package collector 消费焦点变更事件并驱动采集流水线
//
// 每次焦点切换开启一个采集会话：选择策略、抽取并持久化资产、
// 按配置的间隔周期性抓取快照，直到下一次焦点切换结束会话。
package collector

import (
	"context"
	"sync"
	"time"

	"context-capture/internal/activity"
	"context-capture/internal/config"
	"context-capture/internal/eventbus"
	"context-capture/internal/storage"
	"context-capture/pkg/logging"
)

// FocusEvent 外部焦点跟踪源产出的进程切换通知
type FocusEvent struct {
	ProcessName string
	DisplayName string
	WindowTitle string
	Icon        string
	PID         int
}

// StrategySelector 按进程上下文挑选策略，由注册表实现
type StrategySelector interface {
	SelectStrategy(ctx context.Context, pctx activity.ProcessContext) (activity.Strategy, error)
}

// AssetSaver 资产持久化，由存储层实现
type AssetSaver interface {
	SaveActivity(ctx context.Context, act *activity.Activity, continueOnError bool) ([]*storage.SavedAssetInfo, error)
}

// Collector 采集主循环
type Collector struct {
	registry StrategySelector
	saver    AssetSaver
	cfg      *config.Store
	bus      eventbus.Bus
	logger   *logging.Logger

	mu      sync.Mutex
	session context.CancelFunc
	wg      sync.WaitGroup
}

func New(registry StrategySelector, saver AssetSaver, cfg *config.Store, bus eventbus.Bus, logger *logging.Logger) *Collector {
	return &Collector{
		registry: registry,
		saver:    saver,
		cfg:      cfg,
		bus:      bus,
		logger:   logger,
	}
}

// Run 消费焦点事件直到 ctx 取消或事件源关闭
func (c *Collector) Run(ctx context.Context, events <-chan FocusEvent) error {
	for {
		select {
		case <-ctx.Done():
			c.stopSession()
			c.wg.Wait()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				c.stopSession()
				c.wg.Wait()
				return nil
			}
			c.onFocusChange(ctx, ev)
		}
	}
}

// onFocusChange 结束上一个会话并开启新会话
func (c *Collector) onFocusChange(ctx context.Context, ev FocusEvent) {
	if !c.cfg.Current().IsCollectionEnabled() {
		return
	}

	c.stopSession()

	sessionCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.session = cancel
	c.mu.Unlock()

	c.publish(ctx, eventbus.Event{
		Type:        eventbus.EventFocusChanged,
		ProcessName: ev.ProcessName,
		Timestamp:   time.Now().UTC(),
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runSession(sessionCtx, ev)
	}()
}

// runSession 一次焦点会话：采集资产一次，随后周期抓取快照
func (c *Collector) runSession(ctx context.Context, ev FocusEvent) {
	logger := c.logger.WithProcess(ev.ProcessName)
	pctx := activity.ProcessContext{
		ProcessName: ev.ProcessName,
		DisplayName: ev.DisplayName,
		WindowTitle: ev.WindowTitle,
		Icon:        ev.Icon,
		PID:         ev.PID,
	}

	strategy, err := c.registry.SelectStrategy(ctx, pctx)
	if err != nil {
		// 构造失败时退回兜底采集，保证会话不落空
		logger.WithError(err).Warn("策略构造失败，改用兜底采集")
		strategy, err = c.fallbackStrategy(ctx, pctx)
		if err != nil {
			logger.WithError(err).Error("兜底策略仍不可用，放弃本次会话")
			return
		}
	}

	cfg := c.cfg.Current()
	c.captureAssets(ctx, strategy, ev, cfg)

	interval := snapshotInterval(cfg, ev.ProcessName, strategyID(strategy))
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	taken := 0
	maxSnapshots := cfg.Global.MaxSnapshotsPerActivity
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if maxSnapshots > 0 && taken >= maxSnapshots {
				return
			}
			c.captureSnapshots(ctx, strategy, ev)
			taken++
		}
	}
}

func (c *Collector) captureAssets(ctx context.Context, strategy activity.Strategy, ev FocusEvent, cfg *config.ActivityConfig) {
	logger := c.logger.WithProcess(ev.ProcessName)
	assets, err := strategy.RetrieveAssets(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.WithError(err).Warn("资产抽取失败")
		}
		return
	}
	if max := cfg.Global.MaxAssetsPerActivity; max > 0 && len(assets) > max {
		assets = assets[:max]
	}
	if len(assets) == 0 {
		return
	}

	act := &activity.Activity{
		Name:        strategy.Name(),
		Icon:        strategy.Icon(),
		ProcessName: ev.ProcessName,
		Assets:      assets,
	}
	infos, err := c.saver.SaveActivity(ctx, act, false)
	if err != nil {
		logger.WithError(err).Warn("资产持久化失败", "saved", len(infos))
	}

	busEv := eventbus.Event{
		Type:        eventbus.EventActivityCaptured,
		ProcessName: ev.ProcessName,
		StrategyID:  strategyID(strategy),
		Timestamp:   time.Now().UTC(),
	}
	for _, a := range assets {
		busEv.AssetTypes = append(busEv.AssetTypes, string(a.Type()))
	}
	for _, info := range infos {
		busEv.AssetPaths = append(busEv.AssetPaths, info.FilePath)
	}
	c.publish(ctx, busEv)
}

func (c *Collector) captureSnapshots(ctx context.Context, strategy activity.Strategy, ev FocusEvent) {
	snaps, err := strategy.RetrieveSnapshots(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.WithProcess(ev.ProcessName).WithError(err).Debug("快照抽取失败")
		}
		return
	}
	for _, snap := range snaps {
		c.publish(ctx, eventbus.Event{
			Type:        eventbus.EventSnapshotCaptured,
			ProcessName: ev.ProcessName,
			StrategyID:  strategyID(strategy),
			AssetTypes:  []string{string(snap.Type())},
			Message:     snap.Message(),
			Timestamp:   time.Now().UTC(),
		})
	}
}

// fallbackStrategy 直接构造兜底策略，绕过注册表
func (c *Collector) fallbackStrategy(ctx context.Context, pctx activity.ProcessContext) (activity.Strategy, error) {
	return activity.NewDefaultFactory(c.cfg).CreateStrategy(ctx, pctx)
}

func (c *Collector) publish(ctx context.Context, ev eventbus.Event) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(ctx, ev); err != nil && ctx.Err() == nil {
		c.logger.WithError(err).Warn("事件发布失败", "type", ev.Type)
	}
}

func (c *Collector) stopSession() {
	c.mu.Lock()
	cancel := c.session
	c.session = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// strategyID 取策略的稳定标识，目前以名称代替
func strategyID(s activity.Strategy) string {
	return s.Name()
}

// snapshotInterval 按快照频率配置决定周期，零值表示不抓取
//
// 模式 never 与 onchange 都不开周期抓取：onchange 的抓取由标签页
// 事件路径触发。interval 模式优先用策略自己的间隔，缺省回落到
// 三层采集间隔。
func snapshotInterval(cfg *config.ActivityConfig, processName, sid string) time.Duration {
	if sc, ok := cfg.StrategyConfig(sid); ok {
		switch sc.SnapshotFrequency.Mode {
		case "never", "onchange":
			return 0
		case "interval":
			if sc.SnapshotFrequency.Interval > 0 {
				return sc.SnapshotFrequency.Interval
			}
		}
	}
	return cfg.CollectionInterval(processName, sid)
}
