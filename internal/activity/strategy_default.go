package activity

import (
	"context"
	"encoding/json"

	"context-capture/internal/config"
)

// DefaultFactory 兜底策略工厂
//
// 对任何输入都返回 MatchLow，且构造永不失败，是注册表选择
// 永不落空的保证。
type DefaultFactory struct {
	cfg *config.Store
}

func NewDefaultFactory(cfg *config.Store) *DefaultFactory {
	return &DefaultFactory{cfg: cfg}
}

func (f *DefaultFactory) SupportsProcess(processName, windowTitle string) MatchScore {
	return MatchLow
}

func (f *DefaultFactory) CreateStrategy(ctx context.Context, pctx ProcessContext) (Strategy, error) {
	return &DefaultStrategy{pctx: pctx}, nil
}

func (f *DefaultFactory) Metadata() StrategyMetadata {
	return StrategyMetadata{
		ID:          "default",
		Name:        "默认策略",
		Version:     "1.0.0",
		Description: "仅采集进程身份信息的兜底策略",
		Category:    "fallback",
	}
}

// DefaultStrategy 产出仅含进程名与图标的最小资产
//
// 既是真正的兜底，也服务于被隐私设置禁止深度采集的应用。
type DefaultStrategy struct {
	pctx ProcessContext
}

func (s *DefaultStrategy) Name() string {
	if s.pctx.DisplayName != "" {
		return s.pctx.DisplayName
	}
	return s.pctx.ProcessName
}

func (s *DefaultStrategy) Icon() string        { return s.pctx.Icon }
func (s *DefaultStrategy) ProcessName() string { return s.pctx.ProcessName }

func (s *DefaultStrategy) RetrieveAssets(ctx context.Context) ([]Asset, error) {
	asset := NewDefaultAsset(s.Name(), s.pctx.Icon, "", map[string]string{
		"process_name": s.pctx.ProcessName,
	})
	return []Asset{asset}, nil
}

func (s *DefaultStrategy) RetrieveSnapshots(ctx context.Context) ([]Snapshot, error) {
	return []Snapshot{NewDefaultSnapshot(s.pctx.ProcessName)}, nil
}

// GatherState 返回进程身份的 JSON 描述
func (s *DefaultStrategy) GatherState() string {
	state, _ := json.Marshal(map[string]string{
		"process_name": s.pctx.ProcessName,
		"window_title": s.pctx.WindowTitle,
	})
	return string(state)
}
