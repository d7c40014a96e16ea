// Package activity 实现活动策略引擎
//
// 引擎以焦点进程为单位挑选策略，策略把原始的系统或浏览器状态
// 转换成两类产物：资产（可持久化的上下文工件）与快照（瞬时状态
// 捕获）。选择逻辑由注册表集中协调，行为由配置驱动，所有自由
// 文本在返回前经过隐私过滤。
package activity

import (
	"context"
	"time"
)

// MatchScore 策略工厂对进程的匹配程度
//
// 仅用于选择时的排序比较，要求全序。
type MatchScore float64

const (
	MatchPerfect MatchScore = 1.0
	MatchHigh    MatchScore = 0.8
	MatchMedium  MatchScore = 0.6
	MatchLow     MatchScore = 0.4
	NoMatch      MatchScore = 0.0
)

// AssetType 资产变体标识，同时决定存储子目录名
type AssetType string

const (
	AssetYoutube AssetType = "youtube"
	AssetArticle AssetType = "article"
	AssetTwitter AssetType = "twitter"
	AssetPdf     AssetType = "pdf"
	AssetDefault AssetType = "default"
)

// ProcessContext 一次焦点切换携带的进程信息
type ProcessContext struct {
	ProcessName string `json:"process_name"`
	DisplayName string `json:"display_name"`
	WindowTitle string `json:"window_title"`
	Icon        string `json:"icon"`
	PID         int    `json:"pid"`
}

// ContextChip 面向界面的小型描述符，由资产按需产出
type ContextChip struct {
	ID          string            `json:"id"`
	ExtensionID string            `json:"extension_id"`
	Name        string            `json:"name"`
	Attrs       map[string]string `json:"attrs,omitempty"`
	Icon        string            `json:"icon,omitempty"`
	Position    int               `json:"position"`
}

// Asset 可持久化的上下文工件
//
// 创建后不可变，翻译或变体操作返回新实例。Message 产出注入
// LLM 上下文的文本表示；Chip 可返回 nil 表示该资产不展示芯片。
type Asset interface {
	ID() string
	Name() string
	Icon() string
	Type() AssetType
	Message() string
	Chip() *ContextChip
}

// Snapshot 瞬时状态捕获，比资产轻量，不要求可持久化
type Snapshot interface {
	Type() AssetType
	Message() string
	CreatedAt() time.Time
	UpdatedAt() time.Time
}

// Activity 一次策略调用产出的命名资产包
type Activity struct {
	Name        string  `json:"name"`
	Icon        string  `json:"icon"`
	ProcessName string  `json:"process_name"`
	Assets      []Asset `json:"-"`
}

// DisplayAsset 面向界面列表的资产摘要
type DisplayAsset struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Icon string       `json:"icon,omitempty"`
	Type AssetType    `json:"type"`
	Chip *ContextChip `json:"chip,omitempty"`
}

// ToDisplay 提取资产的界面摘要
func ToDisplay(a Asset) DisplayAsset {
	return DisplayAsset{
		ID:   a.ID(),
		Name: a.Name(),
		Icon: a.Icon(),
		Type: a.Type(),
		Chip: a.Chip(),
	}
}

// StrategyMetadata 工厂的静态描述，不绑定任何实例生命周期
type StrategyMetadata struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Version            string   `json:"version"`
	Description        string   `json:"description"`
	SupportedProcesses []string `json:"supported_processes"`
	Category           string   `json:"category"`
}

// Strategy 绑定到一类应用的抽取逻辑
//
// 构造后可被任意次调用，两个抽取方法都可能执行 I/O，必须响应
// ctx 取消。
type Strategy interface {
	Name() string
	Icon() string
	ProcessName() string
	RetrieveAssets(ctx context.Context) ([]Asset, error)
	RetrieveSnapshots(ctx context.Context) ([]Snapshot, error)
	// GatherState 产出当前活动状态的可解析文本表示，供时间线
	// 周期性记录，不做 I/O
	GatherState() string
}

// StrategyFactory 策略的创建者与匹配器
type StrategyFactory interface {
	// SupportsProcess 评估对给定进程的支持程度
	SupportsProcess(processName, windowTitle string) MatchScore
	// CreateStrategy 构造策略实例，失败时向上传播而非静默回退
	CreateStrategy(ctx context.Context, pctx ProcessContext) (Strategy, error)
	// Metadata 返回静态描述
	Metadata() StrategyMetadata
}
