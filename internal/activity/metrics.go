package activity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 策略引擎运行指标
type Metrics struct {
	Selections      *prometheus.CounterVec
	SelectionErrors *prometheus.CounterVec
	AssetsRetrieved *prometheus.CounterVec
	RetrievalErrors *prometheus.CounterVec
	RetrievalTime   *prometheus.HistogramVec
}

// NewMetrics 注册并返回策略引擎指标集
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Selections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "activity_strategy_selections_total",
			Help: "按策略统计的选择次数",
		}, []string{"strategy_id"}),
		SelectionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "activity_strategy_selection_errors_total",
			Help: "策略构造失败次数",
		}, []string{"strategy_id"}),
		AssetsRetrieved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "activity_assets_retrieved_total",
			Help: "按资产类型统计的抽取数量",
		}, []string{"asset_type"}),
		RetrievalErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "activity_retrieval_errors_total",
			Help: "按策略统计的抽取失败次数",
		}, []string{"strategy_id"}),
		RetrievalTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "activity_retrieval_duration_seconds",
			Help:    "资产抽取耗时",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy_id"}),
	}
}
