// Package metrics は転送キューと録画制御のPrometheusメトリクスを定義する
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camsync_queue_length",
		Help: "Number of finished recordings waiting for transfer",
	})

	queueSaturated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camsync_queue_saturated",
		Help: "1 while the transfer worker is paused because the queue is saturated",
	})

	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camsync_transfers_total",
		Help: "Transfers finished by result",
	}, []string{"result"})

	verifyPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camsync_verify_polls_total",
		Help: "Local size polls by outcome",
	}, []string{"outcome"})

	remoteDeleteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camsync_remote_delete_failures_total",
		Help: "Remote deletions that failed after a confirmed transfer",
	})

	recordingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camsync_recordings_total",
		Help: "Recording start/stop requests by action and result",
	}, []string{"action", "result"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "camsync_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camsync_http_requests_in_flight",
		Help: "Current number of HTTP requests being served",
	})

	previewClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camsync_preview_clients",
		Help: "Connected live preview clients (MJPEG and WebSocket)",
	})
)

// SetQueueLength はキュー長を記録する
func SetQueueLength(n int) {
	queueLength.Set(float64(n))
}

// SetQueueSaturated は飽和状態を記録する
func SetQueueSaturated(saturated bool) {
	if saturated {
		queueSaturated.Set(1)
		return
	}
	queueSaturated.Set(0)
}

// IncTransfer は転送結果を記録する
// result ∈ {done,failed,discarded,unknown}
func IncTransfer(result string) {
	transfersTotal.WithLabelValues(normalize(result, "done", "failed", "discarded")).Inc()
}

// IncVerifyPoll はサイズ確認の結果を記録する
// outcome ∈ {match,mismatch,missing,error,unknown}
func IncVerifyPoll(outcome string) {
	verifyPollsTotal.WithLabelValues(normalize(outcome, "match", "mismatch", "missing", "error")).Inc()
}

// IncRemoteDeleteFailure はリモート削除の失敗を記録する
func IncRemoteDeleteFailure() {
	remoteDeleteFailures.Inc()
}

// IncRecording は録画操作の結果を記録する
// action ∈ {start,stop}, result ∈ {ok,out_of_range,busy,not_recording,device_error,unknown}
func IncRecording(action, result string) {
	recordingsTotal.WithLabelValues(
		normalize(action, "start", "stop"),
		normalize(result, "ok", "out_of_range", "busy", "not_recording", "device_error"),
	).Inc()
}

// ObserveHTTPRequest はHTTPリクエストの処理時間を記録する
// routeにはルートのパターン（/api/queue/:position など）を渡す
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// HTTPRequestStarted は処理中のリクエスト数を増やし、終了時に呼ぶ関数を返す
func HTTPRequestStarted() func() {
	httpRequestsInFlight.Inc()
	return httpRequestsInFlight.Dec
}

// PreviewClientConnected はプレビュー接続数を増やし、切断時に呼ぶ関数を返す
func PreviewClientConnected() func() {
	previewClients.Inc()
	return previewClients.Dec
}

// normalize はラベル値を許可リストに丸める
func normalize(value string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return "unknown"
}
