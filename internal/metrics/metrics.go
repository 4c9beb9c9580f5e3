package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "imsync_frames_total", Help: "收到的 STOMP 帧数"},
		[]string{"command"},
	)
	MalformedFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "imsync_malformed_frames_total", Help: "解析或处理失败而丢弃的推送帧"},
		[]string{"destination"},
	)
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "imsync_reconnects_total", Help: "传输层重连次数"},
	)
	ConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "imsync_connection_state", Help: "0=disconnected 1=connecting 2=connected 3=reconnecting"},
	)
	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "imsync_subscriptions_active", Help: "已激活视图的主题订阅数"},
	)
	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "imsync_publish_total", Help: "上行发布次数"},
		[]string{"destination", "result"},
	)
	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "imsync_fetch_total", Help: "分页拉取次数"},
		[]string{"kind", "outcome"},
	)
	FetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "imsync_fetch_latency_ms", Help: "分页拉取耗时", Buckets: prometheus.ExponentialBuckets(10, 2, 10)},
		[]string{"kind"},
	)
	StaleDiscardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "imsync_stale_discards_total", Help: "代际过期而丢弃的分页响应"},
		[]string{"kind"},
	)
	PushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "imsync_push_total", Help: "实时推送合并结果"},
		[]string{"outcome"},
	)
	ResyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "imsync_resyncs_total", Help: "检测到缺口而触发的重同步"},
	)
	SinkErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "imsync_sink_errors_total", Help: "投影输出失败次数"},
		[]string{"sink"},
	)
)

func Init() {
	prometheus.MustRegister(FramesTotal)
	prometheus.MustRegister(MalformedFramesTotal)
	prometheus.MustRegister(ReconnectsTotal)
	prometheus.MustRegister(ConnectionState)
	prometheus.MustRegister(SubscriptionsActive)
	prometheus.MustRegister(PublishTotal)
	prometheus.MustRegister(FetchTotal)
	prometheus.MustRegister(FetchLatency)
	prometheus.MustRegister(StaleDiscardsTotal)
	prometheus.MustRegister(PushTotal)
	prometheus.MustRegister(ResyncsTotal)
	prometheus.MustRegister(SinkErrorsTotal)
}
