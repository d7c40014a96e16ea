package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"context-capture/internal/config"
	"context-capture/pkg/logging"
)

// 浏览器扩展侧支持的动作
const (
	ActionGetMetadata      = "GET_METADATA"
	ActionGenerateAssets   = "GENERATE_ASSETS"
	ActionGenerateSnapshot = "GENERATE_SNAPSHOT"
)

// 浏览器扩展侧推送的事件
const (
	EventTabUpdated   = "TAB_UPDATED"
	EventTabActivated = "TAB_ACTIVATED"
)

// 已知浏览器进程名（不含扩展名，小写）
var browserProcesses = map[string]struct{}{
	"chrome":   {},
	"chromium": {},
	"firefox":  {},
	"msedge":   {},
	"brave":    {},
	"arc":      {},
	"zen":      {},
	"safari":   {},
	"opera":    {},
	"vivaldi":  {},
}

// 窗口标题里的浏览器痕迹，进程名不认识时的次优线索
var browserTitleHints = []string{
	"Google Chrome", "Mozilla Firefox", "Microsoft Edge", "Brave", "Vivaldi",
}

// Requester 面向扩展宿主的请求通道，由桥接器实现
type Requester interface {
	Request(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error)
}

// RequesterLocator 按浏览器进程号找到对应的请求通道
type RequesterLocator func(pid int) (Requester, error)

// BrowserFactory 浏览器策略工厂
//
// 已知浏览器进程名给满分，仅窗口标题带浏览器痕迹给高分，
// 其余不匹配。构造时要求对应进程号已有宿主接入，否则失败并
// 向上传播，由调用方决定是否改用兜底。
type BrowserFactory struct {
	locate  RequesterLocator
	cfg     *config.Store
	logger  *logging.Logger
	metrics *Metrics

	// 按浏览器进程号记录活着的策略实例，标签页事件据此路由
	liveMu sync.Mutex
	live   map[int]*BrowserStrategy
}

func NewBrowserFactory(locate RequesterLocator, cfg *config.Store, logger *logging.Logger, metrics *Metrics) *BrowserFactory {
	return &BrowserFactory{
		locate:  locate,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		live:    make(map[int]*BrowserStrategy),
	}
}

// OnTabEvent 标签页事件到达时使对应策略的抽取缓存失效
//
// 同域导航被抑制，单页应用内部跳转不会触发重复抽取。
func (f *BrowserFactory) OnTabEvent(pid int, payload json.RawMessage) {
	var ev struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil || ev.URL == "" {
		return
	}
	f.liveMu.Lock()
	s := f.live[pid]
	f.liveMu.Unlock()
	if s != nil {
		s.InvalidateCache(ev.URL)
	}
}

func (f *BrowserFactory) SupportsProcess(processName, windowTitle string) MatchScore {
	name := strings.ToLower(strings.TrimSuffix(processName, ".exe"))
	if _, ok := browserProcesses[name]; ok {
		return MatchPerfect
	}
	for _, hint := range browserTitleHints {
		if strings.Contains(windowTitle, hint) {
			return MatchHigh
		}
	}
	return NoMatch
}

func (f *BrowserFactory) CreateStrategy(ctx context.Context, pctx ProcessContext) (Strategy, error) {
	requester, err := f.locate(pctx.PID)
	if err != nil {
		return nil, fmt.Errorf("locating extension host for %q (pid %d): %w", pctx.ProcessName, pctx.PID, err)
	}
	cfg := f.cfg.Current()
	s := &BrowserStrategy{
		pctx:      pctx,
		requester: requester,
		filter:    NewPrivacyFilter(cfg.PrivacyFor(pctx.ProcessName), cfg.ExcludePatternsFor(pctx.ProcessName)),
		logger:    f.logger.WithProcess(pctx.ProcessName),
		metrics:   f.metrics,
	}
	f.liveMu.Lock()
	f.live[pctx.PID] = s
	f.liveMu.Unlock()
	return s, nil
}

func (f *BrowserFactory) Metadata() StrategyMetadata {
	supported := make([]string, 0, len(browserProcesses))
	for name := range browserProcesses {
		supported = append(supported, name)
	}
	return StrategyMetadata{
		ID:                 "browser",
		Name:               "浏览器策略",
		Version:            "1.0.0",
		Description:        "通过扩展宿主抽取当前标签页的视频、文章、推文或 PDF 上下文",
		SupportedProcesses: supported,
		Category:           "browser",
	}
}

// tabMetadata GET_METADATA 的应答载荷
type tabMetadata struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// assetPayload GENERATE_ASSETS 的应答载荷，type 决定其余字段
type assetPayload struct {
	Type          string           `json:"type"`
	URL           string           `json:"url"`
	Title         string           `json:"title"`
	Transcript    []TranscriptLine `json:"transcript,omitempty"`
	CurrentTime   float64          `json:"current_time,omitempty"`
	Content       string           `json:"content,omitempty"`
	Author        string           `json:"author,omitempty"`
	PublishedDate string           `json:"published_date,omitempty"`
	Tweets        []Tweet          `json:"tweets,omitempty"`
}

// snapshotPayload GENERATE_SNAPSHOT 的应答载荷
type snapshotPayload struct {
	Type        string  `json:"type"`
	URL         string  `json:"url"`
	CurrentTime float64 `json:"current_time,omitempty"`
	Selected    string  `json:"selected,omitempty"`
}

// BrowserStrategy 经扩展宿主抽取标签页上下文
//
// 缓存最近一次抽取的地址与结果，同一地址的重复抽取直接复用，
// 避免反复打扰扩展侧。
type BrowserStrategy struct {
	pctx      ProcessContext
	requester Requester
	filter    *PrivacyFilter
	logger    *logging.Logger
	metrics   *Metrics

	mu         sync.Mutex
	lastURL    string
	lastAssets []Asset
}

func (s *BrowserStrategy) Name() string {
	if s.pctx.DisplayName != "" {
		return s.pctx.DisplayName
	}
	return s.pctx.ProcessName
}

func (s *BrowserStrategy) Icon() string        { return s.pctx.Icon }
func (s *BrowserStrategy) ProcessName() string { return s.pctx.ProcessName }

// RetrieveAssets 抽取当前标签页的上下文资产
//
// 先取标签页元数据，再请求按地址形态生成的完整资产。生成失败
// 属于可恢复错误，退化为仅含标题与地址的元数据资产而非整体
// 失败。
func (s *BrowserStrategy) RetrieveAssets(ctx context.Context) ([]Asset, error) {
	start := time.Now()
	meta, err := s.fetchMetadata(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if meta.URL != "" && meta.URL == s.lastURL && s.lastAssets != nil {
		cached := append([]Asset(nil), s.lastAssets...)
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	kind := classifyURL(meta.URL)
	asset, err := s.generateAsset(ctx, meta, kind)
	if err != nil {
		// 可恢复：内容生成失败时退化为元数据资产
		s.logger.WithError(err).Warn("资产生成失败，退化为元数据资产", "url", meta.URL)
		if s.metrics != nil {
			s.metrics.RetrievalErrors.WithLabelValues("browser").Inc()
		}
		asset = s.metadataOnlyAsset(meta, kind)
	}

	assets := s.filter.ApplyAll([]Asset{asset})

	s.mu.Lock()
	s.lastURL = meta.URL
	s.lastAssets = append([]Asset(nil), assets...)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.AssetsRetrieved.WithLabelValues(string(kind)).Inc()
		s.metrics.RetrievalTime.WithLabelValues("browser").Observe(time.Since(start).Seconds())
	}
	return assets, nil
}

// RetrieveSnapshots 抽取播放进度或选中文本等瞬时状态
func (s *BrowserStrategy) RetrieveSnapshots(ctx context.Context) ([]Snapshot, error) {
	raw, err := s.requester.Request(ctx, ActionGenerateSnapshot, nil)
	if err != nil {
		return nil, fmt.Errorf("requesting snapshot: %w", err)
	}
	var payload snapshotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding snapshot payload: %w", errdefs.ErrInvalidArgument)
	}

	var snap Snapshot
	switch AssetType(payload.Type) {
	case AssetYoutube:
		snap = NewYoutubeSnapshot(payload.URL, payload.CurrentTime)
	default:
		snap = NewTextSelectionSnapshot(payload.URL, payload.Selected)
	}
	return []Snapshot{s.filter.ApplySnapshot(snap)}, nil
}

// GatherState 返回当前标签页状态的 JSON 描述
//
// 只读取本地缓存，不向扩展侧发请求。
func (s *BrowserStrategy) GatherState() string {
	s.mu.Lock()
	lastURL := s.lastURL
	s.mu.Unlock()
	state, _ := json.Marshal(map[string]string{
		"process_name": s.pctx.ProcessName,
		"url":          lastURL,
	})
	return string(state)
}

// InvalidateCache 标签页切换后使抽取缓存失效
//
// 同域导航不触发失效，避免单页应用内部跳转引起重复抽取。
func (s *BrowserStrategy) InvalidateCache(newURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastURL != "" && sameDomain(s.lastURL, newURL) {
		return
	}
	s.lastURL = ""
	s.lastAssets = nil
}

func (s *BrowserStrategy) fetchMetadata(ctx context.Context) (*tabMetadata, error) {
	raw, err := s.requester.Request(ctx, ActionGetMetadata, nil)
	if err != nil {
		return nil, fmt.Errorf("requesting tab metadata: %w", err)
	}
	var meta tabMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decoding tab metadata: %w", errdefs.ErrInvalidArgument)
	}
	return &meta, nil
}

func (s *BrowserStrategy) generateAsset(ctx context.Context, meta *tabMetadata, kind AssetType) (Asset, error) {
	req, err := json.Marshal(map[string]string{"url": meta.URL, "kind": string(kind)})
	if err != nil {
		return nil, err
	}
	raw, err := s.requester.Request(ctx, ActionGenerateAssets, req)
	if err != nil {
		return nil, err
	}

	var payload assetPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding asset payload: %w", errdefs.ErrInvalidArgument)
	}
	if payload.URL == "" {
		payload.URL = meta.URL
	}
	if payload.Title == "" {
		payload.Title = meta.Title
	}

	switch AssetType(payload.Type) {
	case AssetYoutube:
		return NewYoutubeAsset(payload.URL, payload.Title, payload.Transcript, payload.CurrentTime), nil
	case AssetArticle:
		return NewArticleAsset(payload.URL, payload.Title, payload.Content, payload.Author, payload.PublishedDate), nil
	case AssetTwitter:
		return NewTwitterAsset(payload.URL, payload.Title, payload.Tweets), nil
	case AssetPdf:
		return NewPdfAsset(payload.URL, payload.Title, payload.Content), nil
	default:
		return nil, fmt.Errorf("unknown asset payload type %q: %w", payload.Type, errdefs.ErrInvalidArgument)
	}
}

// metadataOnlyAsset 按地址形态构造仅含身份信息的退化资产
func (s *BrowserStrategy) metadataOnlyAsset(meta *tabMetadata, kind AssetType) Asset {
	switch kind {
	case AssetYoutube:
		return NewYoutubeAsset(meta.URL, meta.Title, nil, 0)
	case AssetTwitter:
		return NewTwitterAsset(meta.URL, meta.Title, nil)
	case AssetPdf:
		return NewPdfAsset(meta.URL, meta.Title, "")
	default:
		return NewArticleAsset(meta.URL, meta.Title, "", "", "")
	}
}

// classifyURL 按地址形态判定资产类型
func classifyURL(rawURL string) AssetType {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return AssetArticle
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	switch {
	case host == "youtube.com" || host == "youtu.be" || host == "m.youtube.com":
		return AssetYoutube
	case host == "twitter.com" || host == "x.com":
		return AssetTwitter
	case strings.HasSuffix(strings.ToLower(u.Path), ".pdf"):
		return AssetPdf
	default:
		return AssetArticle
	}
}

// sameDomain 两个地址是否同域
func sameDomain(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	hostA := strings.TrimPrefix(strings.ToLower(ua.Host), "www.")
	hostB := strings.TrimPrefix(strings.ToLower(ub.Host), "www.")
	return hostA != "" && hostA == hostB
}
