package activity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TranscriptLine 视频字幕的一行
type TranscriptLine struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// YoutubeAsset 视频上下文资产
type YoutubeAsset struct {
	AssetID     string           `json:"id"`
	URL         string           `json:"url"`
	Title       string           `json:"title"`
	Transcript  []TranscriptLine `json:"transcript"`
	CurrentTime float64          `json:"current_time"`
}

// NewYoutubeAsset 分配标识并构造视频资产
func NewYoutubeAsset(url, title string, transcript []TranscriptLine, currentTime float64) *YoutubeAsset {
	return &YoutubeAsset{
		AssetID:     uuid.NewString(),
		URL:         url,
		Title:       title,
		Transcript:  transcript,
		CurrentTime: currentTime,
	}
}

func (a *YoutubeAsset) ID() string      { return a.AssetID }
func (a *YoutubeAsset) Name() string    { return a.Title }
func (a *YoutubeAsset) Icon() string    { return "youtube" }
func (a *YoutubeAsset) Type() AssetType { return AssetYoutube }

// FullTranscript 拼接全部字幕文本
func (a *YoutubeAsset) FullTranscript() string {
	parts := make([]string, 0, len(a.Transcript))
	for _, line := range a.Transcript {
		if line.Text != "" {
			parts = append(parts, line.Text)
		}
	}
	return strings.Join(parts, " ")
}

// LineAt 返回覆盖指定播放时刻的字幕行
func (a *YoutubeAsset) LineAt(seconds float64) (TranscriptLine, bool) {
	for _, line := range a.Transcript {
		if seconds >= line.Start && seconds < line.Start+line.Duration {
			return line, true
		}
	}
	return TranscriptLine{}, false
}

func (a *YoutubeAsset) Message() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "用户正在观看视频《%s》（%s），当前播放到 %.0f 秒。", a.Title, a.URL, a.CurrentTime)
	if text := a.FullTranscript(); text != "" {
		sb.WriteString("字幕内容：")
		sb.WriteString(text)
	}
	return sb.String()
}

func (a *YoutubeAsset) Chip() *ContextChip {
	return &ContextChip{
		ID:          a.AssetID,
		ExtensionID: "browser",
		Name:        a.Title,
		Icon:        "youtube",
		Attrs:       map[string]string{"url": a.URL},
	}
}

// ArticleAsset 网页文章资产
type ArticleAsset struct {
	AssetID       string `json:"id"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	Author        string `json:"author,omitempty"`
	PublishedDate string `json:"published_date,omitempty"`
	WordCount     int    `json:"word_count"`
}

// NewArticleAsset 构造文章资产，字数按内容统计
func NewArticleAsset(url, title, content, author, publishedDate string) *ArticleAsset {
	return &ArticleAsset{
		AssetID:       uuid.NewString(),
		URL:           url,
		Title:         title,
		Content:       content,
		Author:        author,
		PublishedDate: publishedDate,
		WordCount:     len(strings.Fields(content)),
	}
}

func (a *ArticleAsset) ID() string      { return a.AssetID }
func (a *ArticleAsset) Name() string    { return a.Title }
func (a *ArticleAsset) Icon() string    { return "article" }
func (a *ArticleAsset) Type() AssetType { return AssetArticle }

func (a *ArticleAsset) Message() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "用户正在阅读文章《%s》（%s）。", a.Title, a.URL)
	if a.Author != "" {
		fmt.Fprintf(&sb, "作者：%s。", a.Author)
	}
	if a.Content != "" {
		sb.WriteString("正文：")
		sb.WriteString(a.Content)
	}
	return sb.String()
}

func (a *ArticleAsset) Chip() *ContextChip {
	return &ContextChip{
		ID:          a.AssetID,
		ExtensionID: "browser",
		Name:        a.Title,
		Icon:        "article",
		Attrs:       map[string]string{"url": a.URL},
	}
}

// Tweet 单条推文
type Tweet struct {
	Author    string `json:"author"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// TwitterAsset 推文时间线资产
type TwitterAsset struct {
	AssetID   string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Tweets    []Tweet   `json:"tweets"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTwitterAsset(url, title string, tweets []Tweet) *TwitterAsset {
	return &TwitterAsset{
		AssetID:   uuid.NewString(),
		URL:       url,
		Title:     title,
		Tweets:    tweets,
		Timestamp: time.Now().UTC(),
	}
}

func (a *TwitterAsset) ID() string      { return a.AssetID }
func (a *TwitterAsset) Name() string    { return a.Title }
func (a *TwitterAsset) Icon() string    { return "twitter" }
func (a *TwitterAsset) Type() AssetType { return AssetTwitter }

func (a *TwitterAsset) Message() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "用户正在浏览推文页面《%s》（%s）。", a.Title, a.URL)
	for _, tw := range a.Tweets {
		fmt.Fprintf(&sb, "@%s：%s ", tw.Author, tw.Text)
	}
	return strings.TrimSpace(sb.String())
}

func (a *TwitterAsset) Chip() *ContextChip {
	return &ContextChip{
		ID:          a.AssetID,
		ExtensionID: "browser",
		Name:        a.Title,
		Icon:        "twitter",
		Attrs:       map[string]string{"url": a.URL},
	}
}

// PdfAsset 浏览器内打开的 PDF 文档资产
type PdfAsset struct {
	AssetID string `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func NewPdfAsset(url, title, content string) *PdfAsset {
	return &PdfAsset{
		AssetID: uuid.NewString(),
		URL:     url,
		Title:   title,
		Content: content,
	}
}

func (a *PdfAsset) ID() string      { return a.AssetID }
func (a *PdfAsset) Name() string    { return a.Title }
func (a *PdfAsset) Icon() string    { return "pdf" }
func (a *PdfAsset) Type() AssetType { return AssetPdf }

func (a *PdfAsset) Message() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "用户正在查看 PDF 文档《%s》（%s）。", a.Title, a.URL)
	if a.Content != "" {
		sb.WriteString("文档内容：")
		sb.WriteString(a.Content)
	}
	return sb.String()
}

func (a *PdfAsset) Chip() *ContextChip {
	return &ContextChip{
		ID:          a.AssetID,
		ExtensionID: "browser",
		Name:        a.Title,
		Icon:        "pdf",
		Attrs:       map[string]string{"url": a.URL},
	}
}

// DefaultAsset 仅含进程身份信息的最小资产
//
// 兜底策略与被隐私设置禁止深度采集的应用都产出这种资产。
type DefaultAsset struct {
	AssetID     string            `json:"id"`
	ProcessName string            `json:"name"`
	IconName    string            `json:"icon,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func NewDefaultAsset(processName, icon, description string, metadata map[string]string) *DefaultAsset {
	return &DefaultAsset{
		AssetID:     uuid.NewString(),
		ProcessName: processName,
		IconName:    icon,
		Description: description,
		Metadata:    metadata,
	}
}

func (a *DefaultAsset) ID() string      { return a.AssetID }
func (a *DefaultAsset) Name() string    { return a.ProcessName }
func (a *DefaultAsset) Icon() string    { return a.IconName }
func (a *DefaultAsset) Type() AssetType { return AssetDefault }

func (a *DefaultAsset) Message() string {
	if a.Description != "" {
		return fmt.Sprintf("用户正在使用应用 %s：%s", a.ProcessName, a.Description)
	}
	return fmt.Sprintf("用户正在使用应用 %s", a.ProcessName)
}

// Chip 最小资产不展示芯片
func (a *DefaultAsset) Chip() *ContextChip { return nil }
