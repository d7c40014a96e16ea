package activity

import (
	"regexp"

	"context-capture/internal/config"
)

// 被排除模式命中的文本统一替换为该占位符
const redactedPlaceholder = "[已过滤]"

// PrivacyFilter 对资产与快照的自由文本做脱敏
//
// 过滤发生在策略返回产物之前，下游永远见不到未过滤的内容。
type PrivacyFilter struct {
	cfg      config.PrivacyConfig
	patterns []*regexp.Regexp
}

// NewPrivacyFilter 按应用的生效隐私配置构造过滤器
//
// patterns 来自配置层的预编译结果，非法模式已在加载时拒绝。
func NewPrivacyFilter(cfg config.PrivacyConfig, patterns []*regexp.Regexp) *PrivacyFilter {
	return &PrivacyFilter{cfg: cfg, patterns: patterns}
}

// CollectContent 是否允许采集正文内容
func (f *PrivacyFilter) CollectContent() bool {
	return f.cfg.CollectContent
}

// Scrub 对单段文本应用全部排除模式
func (f *PrivacyFilter) Scrub(text string) string {
	if text == "" {
		return text
	}
	for _, p := range f.patterns {
		text = p.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}

// Apply 过滤单个资产，必要时返回剥离内容后的新实例
//
// collect_content 为假时正文字段清空、只保留身份与元数据；
// 为真时正文逐字段过筛。资产不可变，所以任何改动都产生副本。
func (f *PrivacyFilter) Apply(a Asset) Asset {
	switch asset := a.(type) {
	case *YoutubeAsset:
		out := *asset
		if !f.cfg.CollectContent {
			out.Transcript = nil
		} else {
			lines := make([]TranscriptLine, len(asset.Transcript))
			for i, line := range asset.Transcript {
				line.Text = f.Scrub(line.Text)
				lines[i] = line
			}
			out.Transcript = lines
		}
		out.Title = f.Scrub(asset.Title)
		return &out
	case *ArticleAsset:
		out := *asset
		if !f.cfg.CollectContent {
			out.Content = ""
		} else {
			out.Content = f.Scrub(asset.Content)
		}
		out.Title = f.Scrub(asset.Title)
		if f.cfg.AnonymizeData {
			out.Author = ""
		}
		return &out
	case *TwitterAsset:
		out := *asset
		if !f.cfg.CollectContent {
			out.Tweets = nil
		} else {
			tweets := make([]Tweet, len(asset.Tweets))
			for i, tw := range asset.Tweets {
				tw.Text = f.Scrub(tw.Text)
				if f.cfg.AnonymizeData {
					tw.Author = redactedPlaceholder
				}
				tweets[i] = tw
			}
			out.Tweets = tweets
		}
		out.Title = f.Scrub(asset.Title)
		return &out
	case *PdfAsset:
		out := *asset
		if !f.cfg.CollectContent {
			out.Content = ""
		} else {
			out.Content = f.Scrub(asset.Content)
		}
		out.Title = f.Scrub(asset.Title)
		return &out
	default:
		return a
	}
}

// ApplyAll 过滤一批资产
func (f *PrivacyFilter) ApplyAll(assets []Asset) []Asset {
	out := make([]Asset, len(assets))
	for i, a := range assets {
		out[i] = f.Apply(a)
	}
	return out
}

// ApplySnapshot 过滤单个快照的自由文本
func (f *PrivacyFilter) ApplySnapshot(s Snapshot) Snapshot {
	if sel, ok := s.(*TextSelectionSnapshot); ok {
		out := *sel
		if !f.cfg.CollectContent {
			out.Selected = ""
		} else {
			out.Selected = f.Scrub(sel.Selected)
		}
		return &out
	}
	return s
}
