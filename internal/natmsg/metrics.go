package natmsg

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 桥接器运行指标
type Metrics struct {
	FramesRead         prometheus.Counter
	FramesWritten      prometheus.Counter
	FramesDropped      prometheus.Counter
	UnmatchedResponses prometheus.Counter
	RequestTimeouts    prometheus.Counter
	Reconnects         prometheus.Counter
	RequestDuration    *prometheus.HistogramVec
	ConnectedHosts     prometheus.Gauge
}

// NewMetrics 注册并返回桥接器指标集
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "natmsg_frames_read_total",
			Help: "入站帧总数",
		}),
		FramesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "natmsg_frames_written_total",
			Help: "出站帧总数",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "natmsg_frames_dropped_total",
			Help: "因解析失败或校验不通过被丢弃的帧数",
		}),
		UnmatchedResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: "natmsg_unmatched_responses_total",
			Help: "无匹配在途请求的应答帧数",
		}),
		RequestTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "natmsg_request_timeouts_total",
			Help: "超时放弃的请求数",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "natmsg_reconnects_total",
			Help: "传输通道重建次数",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "natmsg_request_duration_seconds",
			Help:    "请求往返耗时",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		ConnectedHosts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "natmsg_connected_hosts",
			Help: "当前在线的宿主连接数",
		}),
	}
}
