package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultActivityConfig 验证默认配置
func TestDefaultActivityConfig(t *testing.T) {
	cfg := DefaultActivityConfig()

	assert.True(t, cfg.Global.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Global.DefaultCollectionInterval)
	assert.Equal(t, 10, cfg.Global.MaxAssetsPerActivity)
	assert.Equal(t, 100, cfg.Global.MaxSnapshotsPerActivity)
	assert.True(t, cfg.Global.Privacy.CollectContent)
	assert.False(t, cfg.Global.Privacy.AnonymizeData)
	assert.Contains(t, cfg.Global.Privacy.ExcludePatterns, "password")

	require.NoError(t, cfg.Validate())
}

// TestActivityConfig_Validate 验证配置校验
func TestActivityConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ActivityConfig)
		wantErr string
	}{
		{
			name:   "默认配置合法",
			mutate: func(c *ActivityConfig) {},
		},
		{
			name: "max_assets 为零",
			mutate: func(c *ActivityConfig) {
				c.Global.MaxAssetsPerActivity = 0
			},
			wantErr: "max_assets_per_activity",
		},
		{
			name: "max_snapshots 为零",
			mutate: func(c *ActivityConfig) {
				c.Global.MaxSnapshotsPerActivity = 0
			},
			wantErr: "max_snapshots_per_activity",
		},
		{
			name: "采集间隔为零",
			mutate: func(c *ActivityConfig) {
				c.Global.DefaultCollectionInterval = 0
			},
			wantErr: "default_collection_interval",
		},
		{
			name: "非法正则",
			mutate: func(c *ActivityConfig) {
				c.Global.Privacy.ExcludePatterns = []string{"[unclosed"}
			},
			wantErr: "invalid regex pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultActivityConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

// TestActivityConfig_IntervalPrecedence 验证采集间隔优先级
// 应用覆盖 → 策略配置 → 全局默认
func TestActivityConfig_IntervalPrecedence(t *testing.T) {
	cfg := DefaultActivityConfig()
	cfg.Global.DefaultCollectionInterval = 5 * time.Second
	cfg.Strategies["browser"] = StrategyConfig{
		Enabled:            true,
		CollectionInterval: 7 * time.Second,
	}
	cfg.Applications["firefox"] = ApplicationConfig{
		Enabled:                    true,
		CollectionIntervalOverride: 15 * time.Second,
	}

	// 应用覆盖优先
	assert.Equal(t, 15*time.Second, cfg.CollectionInterval("firefox", "browser"))
	// 其他应用使用策略配置
	assert.Equal(t, 7*time.Second, cfg.CollectionInterval("chrome", "browser"))
	// 未知策略回退到全局默认
	assert.Equal(t, 5*time.Second, cfg.CollectionInterval("notepad", "unknown"))
}

// TestActivityConfig_IgnoredApplications 验证忽略应用列表
func TestActivityConfig_IgnoredApplications(t *testing.T) {
	cfg := DefaultActivityConfig()
	cfg.Global.Privacy.IgnoredApplications = []string{"private-app"}

	assert.False(t, cfg.IsApplicationEnabled("private-app"))
	assert.True(t, cfg.IsApplicationEnabled("public-app"))

	// 全局关闭时任何应用都不采集
	cfg.Global.Enabled = false
	assert.False(t, cfg.IsApplicationEnabled("public-app"))
}

// TestActivityConfig_PrivacyOverride 验证应用级隐私覆盖
func TestActivityConfig_PrivacyOverride(t *testing.T) {
	cfg := DefaultActivityConfig()
	cfg.Applications["firefox"] = ApplicationConfig{
		Enabled: true,
		PrivacyOverride: &PrivacyConfig{
			CollectContent: false,
		},
	}

	assert.False(t, cfg.ShouldCollectContent("firefox"))
	assert.True(t, cfg.ShouldCollectContent("chrome"))
}

// TestActivityConfig_ApplicationDisabled 验证应用级禁用
func TestActivityConfig_ApplicationDisabled(t *testing.T) {
	cfg := DefaultActivityConfig()
	cfg.Applications["firefox"] = ApplicationConfig{Enabled: false}

	assert.False(t, cfg.IsApplicationEnabled("firefox"))
}

// TestStore_Reload 验证配置热更新原子性
func TestStore_Reload(t *testing.T) {
	store, err := NewStore(DefaultActivityConfig())
	require.NoError(t, err)

	old := store.Current()
	assert.True(t, old.Global.Enabled)

	next := DefaultActivityConfig()
	next.Global.Enabled = false
	require.NoError(t, store.Reload(next))
	assert.False(t, store.Current().Global.Enabled)

	// 非法配置不生效，保持当前配置
	bad := DefaultActivityConfig()
	bad.Global.MaxAssetsPerActivity = 0
	require.Error(t, store.Reload(bad))
	assert.False(t, store.Current().Global.Enabled)
}

// TestStore_RejectsInvalidInitial 验证初始配置校验
func TestStore_RejectsInvalidInitial(t *testing.T) {
	bad := DefaultActivityConfig()
	bad.Global.DefaultCollectionInterval = 0

	_, err := NewStore(bad)
	assert.Error(t, err)
}

// TestExcludePatterns_Compiled 验证排除模式编译
func TestExcludePatterns_Compiled(t *testing.T) {
	cfg := DefaultActivityConfig()
	cfg.Global.Privacy.ExcludePatterns = []string{`password`, `api[_-]key`}
	require.NoError(t, cfg.Validate())

	patterns := cfg.ExcludePatterns()
	require.Len(t, patterns, 2)
	assert.True(t, patterns[1].MatchString("my api_key here"))
	assert.False(t, patterns[1].MatchString("harmless text"))
}

// TestExcludePatternsFor_ApplicationOverride 验证应用覆盖的排除模式编译与解析
func TestExcludePatternsFor_ApplicationOverride(t *testing.T) {
	cfg := DefaultActivityConfig()
	cfg.Global.Privacy.ExcludePatterns = []string{`password`}
	cfg.Applications = map[string]ApplicationConfig{
		"slack": {
			Enabled: true,
			PrivacyOverride: &PrivacyConfig{
				CollectContent:  true,
				ExcludePatterns: []string{`workspace[_-]token`},
			},
		},
	}
	require.NoError(t, cfg.Validate())

	t.Run("有覆盖的应用使用覆盖模式", func(t *testing.T) {
		patterns := cfg.ExcludePatternsFor("slack")
		require.Len(t, patterns, 1)
		assert.True(t, patterns[0].MatchString("my workspace_token here"))
		assert.False(t, patterns[0].MatchString("password"))
	})

	t.Run("无覆盖的应用回落到全局模式", func(t *testing.T) {
		patterns := cfg.ExcludePatternsFor("chrome")
		require.Len(t, patterns, 1)
		assert.True(t, patterns[0].MatchString("password"))
	})

	t.Run("覆盖模式非法时校验失败", func(t *testing.T) {
		bad := DefaultActivityConfig()
		bad.Applications = map[string]ApplicationConfig{
			"slack": {PrivacyOverride: &PrivacyConfig{ExcludePatterns: []string{"[unclosed"}}},
		}
		assert.Error(t, bad.Validate())
	})
}
