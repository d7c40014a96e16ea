// Package main 上下文采集守护进程入口
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"context-capture/internal/activity"
	"context-capture/internal/collector"
	"context-capture/internal/config"
	"context-capture/internal/eventbus"
	"context-capture/internal/natmsg"
	"context-capture/internal/storage"
	"context-capture/pkg/logging"
)

func main() {
	logLevel := flag.String("log-level", "", "日志级别（debug/info/warn/error），覆盖环境变量")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Default("captured").WithError(err).Error("配置加载失败")
		os.Exit(1)
	}

	level := cfg.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logger := logging.New(logging.Config{
		Level:     level,
		Format:    cfg.LogFormat,
		Component: "captured",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("守护进程异常退出")
		os.Exit(1)
	}
	logger.Info("守护进程已退出")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	registry := prometheus.NewRegistry()
	natmsgMetrics := natmsg.NewMetrics(registry)
	activityMetrics := activity.NewMetrics(registry)

	// 配置热更新的原子容器
	store, err := config.NewStore(cfg.Activity)
	if err != nil {
		return err
	}

	// 资产存储：按配置叠加加密、目录库与对象镜像
	var storeOpts []storage.Option
	if cfg.Storage.Encrypt {
		key, err := storage.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return err
		}
		enc, err := storage.NewEncryptor(key)
		if err != nil {
			return err
		}
		storeOpts = append(storeOpts, storage.WithEncryptor(enc))
	}
	if cfg.Storage.CatalogPath != "" {
		catalog, err := storage.OpenCatalog(cfg.Storage.CatalogPath)
		if err != nil {
			return err
		}
		defer catalog.Close()
		storeOpts = append(storeOpts, storage.WithCatalog(catalog))
	}
	if cfg.MinIO.Endpoint != "" {
		mirror, err := storage.NewMirror(ctx, cfg.MinIO, logger)
		if err != nil {
			// 镜像是可选增强，连不上降级为仅本地存储
			logger.WithError(err).Warn("对象存储不可达，禁用镜像")
		} else {
			storeOpts = append(storeOpts, storage.WithMirror(mirror))
		}
	}
	assetStore, err := storage.NewStore(cfg.Storage, logger, storeOpts...)
	if err != nil {
		return err
	}

	// 事件总线：配置了 Redis 则跨进程投递，否则进程内广播
	var bus eventbus.Bus
	if cfg.RedisURL != "" {
		redisBus, err := eventbus.NewRedisBus(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis 不可达，改用进程内事件总线")
			bus = eventbus.NewMemoryBus(logger)
		} else {
			bus = redisBus
		}
	} else {
		bus = eventbus.NewMemoryBus(logger)
	}
	defer bus.Close()

	// 宿主网关：浏览器拉起的原生消息宿主回连到这里。标签页事件
	// 路由给浏览器策略做缓存失效（同域导航被抑制）。
	var browserFactory *activity.BrowserFactory
	hostServer := natmsg.NewServer(logger, natmsgMetrics, func(pid int, transport natmsg.Transport) *natmsg.Bridge {
		return natmsg.NewBridge(nil, logger.WithRequestID(uint64(pid)),
			natmsg.WithRequestTimeout(cfg.Bridge.RequestTimeout),
			natmsg.WithMetrics(natmsgMetrics),
			natmsg.WithEventHandler(func(action string, payload json.RawMessage) {
				switch action {
				case activity.EventTabUpdated, activity.EventTabActivated:
					browserFactory.OnTabEvent(pid, payload)
				}
			}))
	})
	defer hostServer.Shutdown()

	// 配置了宿主可执行文件时由守护进程直接拉起并驱动重连，
	// 服务于不走浏览器拉起路径的部署形态
	if cfg.Bridge.SubprocessPath != "" {
		subBridge := natmsg.NewBridge(func() (natmsg.Transport, error) {
			return natmsg.NewSubprocessTransport(cfg.Bridge.SubprocessPath, cfg.Bridge.SubprocessArgs...)
		}, logger,
			natmsg.WithRequestTimeout(cfg.Bridge.RequestTimeout),
			natmsg.WithReconnectDelay(cfg.Bridge.ReconnectDelay),
			natmsg.WithMetrics(natmsgMetrics))
		go subBridge.Run(ctx)
		defer subBridge.Close()
	}

	// 策略注册表：浏览器策略经宿主网关找桥接器
	browserFactory = activity.NewBrowserFactory(func(pid int) (activity.Requester, error) {
		return hostServer.BridgeFor(pid)
	}, store, logger, activityMetrics)
	strategies := activity.NewStrategyRegistry(store, logger, activityMetrics)
	strategies.RegisterFactory(browserFactory)
	activity.SetDefaultRegistry(strategies)

	focusEvents := make(chan collector.FocusEvent, 16)

	mux := http.NewServeMux()
	mux.Handle("/ws/host", hostServer)
	mux.HandleFunc("/focus", focusHandler(focusEvents, logger))
	mux.HandleFunc("/strategies", strategiesHandler(strategies))
	httpServer := &http.Server{
		Addr:              cfg.Bridge.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("宿主网关已启动", "addr", cfg.Bridge.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("宿主网关退出")
		}
	}()

	if cfg.Bridge.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: cfg.Bridge.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("指标服务已启动", "addr", cfg.Bridge.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("指标服务退出")
			}
		}()
		defer metricsServer.Close()
	}

	coll := collector.New(strategies, assetStore, store, bus, logger)
	err = coll.Run(ctx, focusEvents)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	return err
}

// focusHandler 接收外部焦点跟踪器上报的切换事件
func focusHandler(events chan<- collector.FocusEvent, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var ev collector.FocusEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, "invalid focus event", http.StatusBadRequest)
			return
		}
		if ev.ProcessName == "" {
			http.Error(w, "process_name required", http.StatusBadRequest)
			return
		}
		select {
		case events <- ev:
			w.WriteHeader(http.StatusAccepted)
		default:
			// 采集循环迟滞时丢弃最新事件，焦点语义只关心最终状态
			logger.Warn("焦点事件队列已满，丢弃事件", "process", ev.ProcessName)
			http.Error(w, "collector busy", http.StatusServiceUnavailable)
		}
	}
}

// strategiesHandler 列出已注册策略的静态描述，带 id 参数时只查单个
func strategiesHandler(registry *activity.StrategyRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if id := r.URL.Query().Get("id"); id != "" {
			meta, ok := registry.Metadata(id)
			if !ok {
				http.Error(w, "unknown strategy", http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(meta)
			return
		}
		json.NewEncoder(w).Encode(registry.Metadatas())
	}
}
