// Package metrics 以 Prometheus 文本格式暴露进程内指标：HTTP 请求
// 计数与时延直方图，以及按终局类型统计的谈判会话指标。
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type latencyKey struct {
	handler string
	method  string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
	// 大于最后一个桶的观测只计入 +Inf（即 h.count）。
}

type collector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	errors   map[latencyKey]uint64
	latency  map[latencyKey]*histogram

	sessions map[string]uint64
	rounds   *histogram
}

var defaultCollector = &collector{
	requests: make(map[requestKey]uint64),
	errors:   make(map[latencyKey]uint64),
	latency:  make(map[latencyKey]*histogram),
	sessions: make(map[string]uint64),
	rounds:   newHistogram([]float64{1, 2, 4, 6, 8, 12, 16, 20}),
}

// ObserveHTTPRequest 记录一次 HTTP 请求的状态码与耗时。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultCollector.observeHTTP(handler, method, status, duration)
}

// ObserveSession 记录一次谈判会话的终局类型与轮数。
func ObserveSession(outcome string, rounds int) {
	defaultCollector.observeSession(outcome, rounds)
}

func (c *collector) observeHTTP(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
	key := latencyKey{handler: handler, method: method}
	if status >= 500 {
		c.errors[key]++
	}
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram([]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5})
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

func (c *collector) observeSession(outcome string, rounds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[outcome]++
	c.rounds.observe(float64(rounds))
}

// Middleware 包装路由处理器，按请求路径记录请求指标。
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		ObserveHTTPRequest(r.URL.Path, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Handler 以 Prometheus 文本协议输出全部已采集指标。
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP negochain_http_requests_total Total number of HTTP requests processed.\n")
	builder.WriteString("# TYPE negochain_http_requests_total counter\n")
	for _, key := range sortedRequestKeys(c.requests) {
		builder.WriteString(fmt.Sprintf("negochain_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(key.handler), escape(key.method), escape(key.code), c.requests[key]))
	}

	builder.WriteString("# HELP negochain_http_request_errors_total Total number of HTTP requests that resulted in a server error.\n")
	builder.WriteString("# TYPE negochain_http_request_errors_total counter\n")
	for _, key := range sortedLatencyKeys(c.errors) {
		builder.WriteString(fmt.Sprintf("negochain_http_request_errors_total{handler=\"%s\",method=\"%s\"} %d\n",
			escape(key.handler), escape(key.method), c.errors[key]))
	}

	builder.WriteString("# HELP negochain_http_request_duration_seconds HTTP request duration in seconds.\n")
	builder.WriteString("# TYPE negochain_http_request_duration_seconds histogram\n")
	latKeys := make([]latencyKey, 0, len(c.latency))
	for key := range c.latency {
		latKeys = append(latKeys, key)
	}
	sortLatencyKeys(latKeys)
	for _, key := range latKeys {
		hist := c.latency[key]
		for idx, bound := range hist.buckets {
			builder.WriteString(fmt.Sprintf("negochain_http_request_duration_seconds_bucket{handler=\"%s\",method=\"%s\",le=\"%s\"} %d\n",
				escape(key.handler), escape(key.method), formatFloat(bound), hist.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("negochain_http_request_duration_seconds_bucket{handler=\"%s\",method=\"%s\",le=\"+Inf\"} %d\n",
			escape(key.handler), escape(key.method), hist.count))
		builder.WriteString(fmt.Sprintf("negochain_http_request_duration_seconds_sum{handler=\"%s\",method=\"%s\"} %s\n",
			escape(key.handler), escape(key.method), formatFloat(hist.sum)))
		builder.WriteString(fmt.Sprintf("negochain_http_request_duration_seconds_count{handler=\"%s\",method=\"%s\"} %d\n",
			escape(key.handler), escape(key.method), hist.count))
	}

	builder.WriteString("# HELP negochain_sessions_total Total number of negotiation sessions by outcome.\n")
	builder.WriteString("# TYPE negochain_sessions_total counter\n")
	outcomes := make([]string, 0, len(c.sessions))
	for outcome := range c.sessions {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	for _, outcome := range outcomes {
		builder.WriteString(fmt.Sprintf("negochain_sessions_total{outcome=\"%s\"} %d\n", escape(outcome), c.sessions[outcome]))
	}

	builder.WriteString("# HELP negochain_negotiation_rounds Negotiation rounds per finished session.\n")
	builder.WriteString("# TYPE negochain_negotiation_rounds histogram\n")
	for idx, bound := range c.rounds.buckets {
		builder.WriteString(fmt.Sprintf("negochain_negotiation_rounds_bucket{le=\"%s\"} %d\n", formatFloat(bound), c.rounds.counts[idx]))
	}
	builder.WriteString(fmt.Sprintf("negochain_negotiation_rounds_bucket{le=\"+Inf\"} %d\n", c.rounds.count))
	builder.WriteString(fmt.Sprintf("negochain_negotiation_rounds_sum %s\n", formatFloat(c.rounds.sum)))
	builder.WriteString(fmt.Sprintf("negochain_negotiation_rounds_count %d\n", c.rounds.count))

	return builder.String()
}

func sortedRequestKeys(m map[requestKey]uint64) []requestKey {
	keys := make([]requestKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].handler != keys[j].handler {
			return keys[i].handler < keys[j].handler
		}
		if keys[i].method != keys[j].method {
			return keys[i].method < keys[j].method
		}
		return keys[i].code < keys[j].code
	})
	return keys
}

func sortedLatencyKeys(m map[latencyKey]uint64) []latencyKey {
	keys := make([]latencyKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sortLatencyKeys(keys)
	return keys
}

func sortLatencyKeys(keys []latencyKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].handler != keys[j].handler {
			return keys[i].handler < keys[j].handler
		}
		return keys[i].method < keys[j].method
	})
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
