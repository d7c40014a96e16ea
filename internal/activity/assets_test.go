package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYoutubeAsset_Transcript(t *testing.T) {
	yt := NewYoutubeAsset("https://youtube.com/watch?v=x", "标题", []TranscriptLine{
		{Text: "第一句", Start: 0, Duration: 2},
		{Text: "第二句", Start: 2, Duration: 3},
		{Text: "", Start: 5, Duration: 1},
		{Text: "第三句", Start: 6, Duration: 2},
	}, 3)

	t.Run("拼接全文跳过空行", func(t *testing.T) {
		assert.Equal(t, "第一句 第二句 第三句", yt.FullTranscript())
	})

	t.Run("按时刻定位字幕行", func(t *testing.T) {
		line, ok := yt.LineAt(2.5)
		require.True(t, ok)
		assert.Equal(t, "第二句", line.Text)

		_, ok = yt.LineAt(100)
		assert.False(t, ok)
	})

	t.Run("消息文本包含标题与字幕", func(t *testing.T) {
		msg := yt.Message()
		assert.Contains(t, msg, "标题")
		assert.Contains(t, msg, "第一句")
	})
}

func TestAsset_Identity(t *testing.T) {
	t.Run("每个资产分配唯一标识", func(t *testing.T) {
		a := NewArticleAsset("https://a", "t", "", "", "")
		b := NewArticleAsset("https://a", "t", "", "", "")
		assert.NotEmpty(t, a.ID())
		assert.NotEqual(t, a.ID(), b.ID())
	})

	t.Run("文章字数随内容统计", func(t *testing.T) {
		a := NewArticleAsset("https://a", "t", "one two three", "", "")
		assert.Equal(t, 3, a.WordCount)
	})
}

func TestToDisplay(t *testing.T) {
	yt := NewYoutubeAsset("https://youtube.com/watch?v=x", "标题", nil, 0)
	d := ToDisplay(yt)
	assert.Equal(t, yt.ID(), d.ID)
	assert.Equal(t, "标题", d.Name)
	assert.Equal(t, AssetYoutube, d.Type)
	require.NotNil(t, d.Chip)

	def := NewDefaultAsset("vim", "", "", nil)
	assert.Nil(t, ToDisplay(def).Chip)
}

func TestAsset_Chip(t *testing.T) {
	t.Run("浏览器资产携带芯片", func(t *testing.T) {
		yt := NewYoutubeAsset("https://youtube.com/watch?v=x", "标题", nil, 0)
		chip := yt.Chip()
		require.NotNil(t, chip)
		assert.Equal(t, yt.ID(), chip.ID)
		assert.Equal(t, "browser", chip.ExtensionID)
		assert.Equal(t, "https://youtube.com/watch?v=x", chip.Attrs["url"])
	})

	t.Run("兜底资产无芯片", func(t *testing.T) {
		d := NewDefaultAsset("vim", "", "", nil)
		assert.Nil(t, d.Chip())
	})
}
