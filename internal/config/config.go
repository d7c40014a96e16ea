// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（加密密钥、MinIO 凭证、Redis 地址）和 APP_ENV
//  2. 根据 APP_ENV 加载对应的 configs/{env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
//
// 采集配置（ActivityConfig）是读多写少的：策略执行过程中并发读取，
// 热更新通过原子指针交换完成，绝不原地修改。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// PrivacyConfig 隐私采集配置
type PrivacyConfig struct {
	CollectContent      bool     `yaml:"collect_content"`
	AnonymizeData       bool     `yaml:"anonymize_data"`
	ExcludePatterns     []string `yaml:"exclude_patterns"`
	IgnoredApplications []string `yaml:"ignored_applications"`
}

// GlobalConfig 全局采集配置
type GlobalConfig struct {
	Enabled                   bool          `yaml:"enabled"`
	DefaultCollectionInterval time.Duration `yaml:"default_collection_interval"`
	MaxAssetsPerActivity      int           `yaml:"max_assets_per_activity"`
	MaxSnapshotsPerActivity   int           `yaml:"max_snapshots_per_activity"`
	Privacy                   PrivacyConfig `yaml:"privacy"`
}

// SnapshotFrequency 快照采集频率
//
// Mode 取值：
//   - never:    不采集快照
//   - interval: 按 Interval 周期采集
//   - onchange: 仅在状态变化时采集
type SnapshotFrequency struct {
	Mode     string        `yaml:"mode"`
	Interval time.Duration `yaml:"interval"`
}

// StrategyConfig 单个策略的配置
type StrategyConfig struct {
	Enabled            bool              `yaml:"enabled"`
	Priority           int               `yaml:"priority"`
	CollectionInterval time.Duration     `yaml:"collection_interval"`
	AssetTypes         []string          `yaml:"asset_types"`
	SnapshotFrequency  SnapshotFrequency `yaml:"snapshot_frequency"`
	Settings           map[string]string `yaml:"settings"`
}

// ApplicationConfig 按应用的覆盖配置
type ApplicationConfig struct {
	Enabled                    bool              `yaml:"enabled"`
	ForceStrategy              string            `yaml:"force_strategy"`
	PrivacyOverride            *PrivacyConfig    `yaml:"privacy_override"`
	CollectionIntervalOverride time.Duration     `yaml:"collection_interval_override"`
	Settings                   map[string]string `yaml:"settings"`
}

// ActivityConfig 采集配置（全局 + 按策略 + 按应用三层）
type ActivityConfig struct {
	Global       GlobalConfig                 `yaml:"global"`
	Strategies   map[string]StrategyConfig    `yaml:"strategies"`
	Applications map[string]ApplicationConfig `yaml:"applications"`

	// 编译后的排除模式，Validate 时填充；应用覆盖的模式按
	// 应用名单独编译
	compiledPatterns    []*regexp.Regexp
	compiledAppPatterns map[string][]*regexp.Regexp
}

// StorageConfig 资产存储配置
type StorageConfig struct {
	BaseDir        string `yaml:"base_dir"`
	UseContentHash bool   `yaml:"use_content_hash"`
	OrganizeByType bool   `yaml:"organize_by_type"`
	MaxFileSize    int64  `yaml:"max_file_size"` // 0 表示不限制
	Encrypt        bool   `yaml:"encrypt"`
	CatalogPath    string `yaml:"catalog_path"` // SQLite 目录库路径，空则禁用
}

// BridgeConfig 原生消息桥配置
type BridgeConfig struct {
	ListenAddr     string        `yaml:"listen_addr"` // WebSocket 监听地址
	HostID         string        `yaml:"host_id"`     // 平台侧宿主标识，外部契约
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MetricsAddr    string        `yaml:"metrics_addr"` // Prometheus 暴露地址，空则禁用
	SubprocessPath string        `yaml:"subprocess_path"`
	SubprocessArgs []string      `yaml:"subprocess_args"`
}

// MinIOConfig 对象存储镜像配置
type MinIOConfig struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	UseSSL   bool   `yaml:"use_ssl"`
	// AccessKey / SecretKey 来自 .env
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// RedisConfig 事件总线配置
type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`
}

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Activity ActivityConfig `yaml:"activity"`
	Storage  StorageConfig  `yaml:"storage"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Redis    RedisConfig    `yaml:"redis"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env      Environment
	Activity ActivityConfig
	Storage  StorageConfig
	Bridge   BridgeConfig
	MinIO    MinIOConfig
	RedisURL string

	// EncryptionKey 资产静态加密密钥（32 字节 hex），来自 .env
	EncryptionKey string

	// 日志级别与格式，来自环境变量
	LogLevel  string
	LogFormat string
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() (*Config, error) {
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	env := parseEnv(getEnv("APP_ENV", "dev"))

	yamlCfg := loadYAMLConfig(env)

	cfg := &Config{
		Env:           env,
		Activity:      yamlCfg.Activity,
		Storage:       yamlCfg.Storage,
		Bridge:        yamlCfg.Bridge,
		MinIO:         yamlCfg.MinIO,
		RedisURL:      buildRedisURL(yamlCfg.Redis),
		EncryptionKey: getEnv("ASSET_ENCRYPTION_KEY", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
	}
	cfg.MinIO.AccessKey = getEnv("MINIO_ACCESS_KEY", "")
	cfg.MinIO.SecretKey = getEnv("MINIO_SECRET_KEY", "")

	if err := cfg.Activity.Validate(); err != nil {
		return nil, fmt.Errorf("invalid activity config: %w", err)
	}

	return cfg, nil
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	cfg := &YAMLConfig{
		Activity: DefaultActivityConfig(),
		Storage: StorageConfig{
			BaseDir:        defaultDataDir(),
			UseContentHash: true,
			OrganizeByType: true,
			MaxFileSize:    100 * 1024 * 1024,
		},
		Bridge: BridgeConfig{
			ListenAddr:     "127.0.0.1:50432",
			HostID:         "com.eurora.app",
			RequestTimeout: 5 * time.Second,
			ReconnectDelay: 2 * time.Second,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379, DB: 0},
	}

	for _, base := range configPaths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

// DefaultActivityConfig 返回采集配置默认值
func DefaultActivityConfig() ActivityConfig {
	return ActivityConfig{
		Global: GlobalConfig{
			Enabled:                   true,
			DefaultCollectionInterval: 5 * time.Second,
			MaxAssetsPerActivity:      10,
			MaxSnapshotsPerActivity:   100,
			Privacy: PrivacyConfig{
				CollectContent:  true,
				AnonymizeData:   false,
				ExcludePatterns: []string{`password`, `secret`, `token`, `key`},
			},
		},
		Strategies:   map[string]StrategyConfig{},
		Applications: map[string]ApplicationConfig{},
	}
}

func parseEnv(s string) Environment {
	switch strings.ToLower(s) {
	case "prod", "production":
		return EnvProduction
	case "test":
		return EnvTest
	default:
		return EnvDevelopment
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func buildRedisURL(cfg RedisConfig) string {
	if cfg.Host == "" {
		return ""
	}
	return fmt.Sprintf("redis://%s:%d/%d", cfg.Host, cfg.Port, cfg.DB)
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "context-capture", "assets")
	}
	return "./assets"
}

// ============================================================================
// ActivityConfig 查询方法
// ============================================================================

// Validate 校验采集配置并编译排除模式
func (c *ActivityConfig) Validate() error {
	if c.Global.MaxAssetsPerActivity <= 0 {
		return fmt.Errorf("max_assets_per_activity must be greater than 0")
	}
	if c.Global.MaxSnapshotsPerActivity <= 0 {
		return fmt.Errorf("max_snapshots_per_activity must be greater than 0")
	}
	if c.Global.DefaultCollectionInterval <= 0 {
		return fmt.Errorf("default_collection_interval must be greater than 0")
	}

	c.compiledPatterns = c.compiledPatterns[:0]
	for _, pattern := range c.Global.Privacy.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		c.compiledPatterns = append(c.compiledPatterns, re)
	}

	for id, sc := range c.Strategies {
		if sc.CollectionInterval < 0 {
			return fmt.Errorf("strategy %q collection_interval must not be negative", id)
		}
	}
	c.compiledAppPatterns = make(map[string][]*regexp.Regexp)
	for name, app := range c.Applications {
		if app.CollectionIntervalOverride < 0 {
			return fmt.Errorf("application %q collection_interval_override must not be negative", name)
		}
		if app.PrivacyOverride == nil {
			continue
		}
		compiled := make([]*regexp.Regexp, 0, len(app.PrivacyOverride.ExcludePatterns))
		for _, pattern := range app.PrivacyOverride.ExcludePatterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return fmt.Errorf("application %q invalid regex pattern %q: %w", name, pattern, err)
			}
			compiled = append(compiled, re)
		}
		c.compiledAppPatterns[name] = compiled
	}

	return nil
}

// ExcludePatterns 返回编译后的全局排除模式（Validate 后可用）
func (c *ActivityConfig) ExcludePatterns() []*regexp.Regexp {
	return c.compiledPatterns
}

// ExcludePatternsFor 返回应用生效的编译后排除模式
//
// 与 PrivacyFor 同语义：存在应用覆盖时整体替换全局模式，而非
// 叠加。
func (c *ActivityConfig) ExcludePatternsFor(appName string) []*regexp.Regexp {
	if patterns, ok := c.compiledAppPatterns[appName]; ok {
		return patterns
	}
	return c.compiledPatterns
}

// StrategyConfig 获取策略配置
func (c *ActivityConfig) StrategyConfig(strategyID string) (StrategyConfig, bool) {
	sc, ok := c.Strategies[strategyID]
	return sc, ok
}

// ApplicationConfig 获取应用配置
func (c *ActivityConfig) ApplicationConfig(appName string) (ApplicationConfig, bool) {
	ac, ok := c.Applications[appName]
	return ac, ok
}

// IsCollectionEnabled 全局采集开关
func (c *ActivityConfig) IsCollectionEnabled() bool {
	return c.Global.Enabled
}

// IsApplicationEnabled 判断指定应用是否允许采集
//
// 关闭条件（任一满足即关闭）：
//   - 全局开关关闭
//   - 应用在 ignored_applications 列表中
//   - 应用配置显式禁用
func (c *ActivityConfig) IsApplicationEnabled(appName string) bool {
	if !c.Global.Enabled {
		return false
	}
	for _, ignored := range c.Global.Privacy.IgnoredApplications {
		if ignored == appName {
			return false
		}
	}
	if ac, ok := c.Applications[appName]; ok {
		return ac.Enabled
	}
	return true
}

// CollectionInterval 解析采集间隔
// 优先级：应用覆盖 → 策略配置 → 全局默认
func (c *ActivityConfig) CollectionInterval(appName, strategyID string) time.Duration {
	if ac, ok := c.Applications[appName]; ok && ac.CollectionIntervalOverride > 0 {
		return ac.CollectionIntervalOverride
	}
	if sc, ok := c.Strategies[strategyID]; ok && sc.CollectionInterval > 0 {
		return sc.CollectionInterval
	}
	return c.Global.DefaultCollectionInterval
}

// PrivacyFor 解析应用生效的隐私配置（应用覆盖优先）
func (c *ActivityConfig) PrivacyFor(appName string) PrivacyConfig {
	if ac, ok := c.Applications[appName]; ok && ac.PrivacyOverride != nil {
		return *ac.PrivacyOverride
	}
	return c.Global.Privacy
}

// ShouldCollectContent 判断应用是否允许采集内容正文
func (c *ActivityConfig) ShouldCollectContent(appName string) bool {
	return c.PrivacyFor(appName).CollectContent
}

// ============================================================================
// 热更新：原子交换
// ============================================================================

// Store 持有当前生效的采集配置，支持无锁读取和原子热更新
type Store struct {
	current atomic.Pointer[ActivityConfig]
}

// NewStore 创建配置仓库
func NewStore(cfg ActivityConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{}
	s.current.Store(&cfg)
	return s, nil
}

// Current 返回当前配置快照（只读，调用方不得修改）
func (s *Store) Current() *ActivityConfig {
	return s.current.Load()
}

// Reload 原子替换配置
// 校验失败时保持旧配置不变，避免半更新状态
func (s *Store) Reload(cfg ActivityConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.current.Store(&cfg)
	return nil
}
