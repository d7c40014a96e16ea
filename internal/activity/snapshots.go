package activity

import (
	"fmt"
	"time"
)

// snapshotTimes 快照共有的时间戳
type snapshotTimes struct {
	Created time.Time `json:"created_at"`
	Updated time.Time `json:"updated_at"`
}

func newSnapshotTimes() snapshotTimes {
	now := time.Now().UTC()
	return snapshotTimes{Created: now, Updated: now}
}

func (s snapshotTimes) CreatedAt() time.Time { return s.Created }
func (s snapshotTimes) UpdatedAt() time.Time { return s.Updated }

// YoutubeSnapshot 当前播放进度
type YoutubeSnapshot struct {
	snapshotTimes
	URL         string  `json:"url"`
	CurrentTime float64 `json:"current_time"`
}

func NewYoutubeSnapshot(url string, currentTime float64) *YoutubeSnapshot {
	return &YoutubeSnapshot{snapshotTimes: newSnapshotTimes(), URL: url, CurrentTime: currentTime}
}

func (s *YoutubeSnapshot) Type() AssetType { return AssetYoutube }

func (s *YoutubeSnapshot) Message() string {
	return fmt.Sprintf("视频当前播放到 %.0f 秒", s.CurrentTime)
}

// TextSelectionSnapshot 页面中高亮选中的文本
type TextSelectionSnapshot struct {
	snapshotTimes
	URL      string `json:"url"`
	Selected string `json:"selected"`
}

func NewTextSelectionSnapshot(url, selected string) *TextSelectionSnapshot {
	return &TextSelectionSnapshot{snapshotTimes: newSnapshotTimes(), URL: url, Selected: selected}
}

func (s *TextSelectionSnapshot) Type() AssetType { return AssetArticle }

func (s *TextSelectionSnapshot) Message() string {
	if s.Selected == "" {
		return "页面中没有选中文本"
	}
	return fmt.Sprintf("用户在页面中选中了文本：%s", s.Selected)
}

// DefaultSnapshot 仅记录进程仍在前台的轻量快照
type DefaultSnapshot struct {
	snapshotTimes
	ProcessName string `json:"process_name"`
}

func NewDefaultSnapshot(processName string) *DefaultSnapshot {
	return &DefaultSnapshot{snapshotTimes: newSnapshotTimes(), ProcessName: processName}
}

func (s *DefaultSnapshot) Type() AssetType { return AssetDefault }

func (s *DefaultSnapshot) Message() string {
	return fmt.Sprintf("应用 %s 处于前台", s.ProcessName)
}
