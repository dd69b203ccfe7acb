package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics summary endpoint.
type Summary struct {
	HTTP        httpSummary    `json:"http"`
	Quotes      quoteSummary   `json:"quotes"`
	Activations activationInfo `json:"activations"`
	RateLimit   rateLimitInfo  `json:"rateLimit"`
	Audit       auditInfo      `json:"audit"`
	Auth        authInfo       `json:"auth"`
	DB          dbInfo         `json:"db"`
	Server      serverInfo     `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type quoteSummary struct {
	Transitions float64 `json:"transitions"`
	Succeeded   float64 `json:"succeeded"`
	Illegal     float64 `json:"illegal"`
	Conflicts   float64 `json:"conflicts"`
}

type activationInfo struct {
	OK          float64 `json:"ok"`
	Unavailable float64 `json:"unavailable"`
	Errors      float64 `json:"errors"`
}

type rateLimitInfo struct {
	Rejections float64 `json:"rejections"`
}

type auditInfo struct {
	BufferSize   float64 `json:"bufferSize"`
	TotalFlushes float64 `json:"totalFlushes"`
	FlushErrors  float64 `json:"flushErrors"`
	Entries      float64 `json:"entries"`
}

type authInfo struct {
	Failures  float64 `json:"failures"`
	Successes float64 `json:"successes"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := m.Summarize()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

// Summarize gathers the registry into a Summary.
func (m *Metrics) Summarize() (*Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	requests := fam["quotedesk_http_requests_total"]
	latency := fam["quotedesk_http_request_duration_seconds"]
	transitions := fam["quotedesk_quote_transitions_total"]
	activations := fam["quotedesk_org_activations_total"]
	start := gaugeValue(fam["quotedesk_server_start_time_seconds"])

	return &Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(requests, nil),
			ErrorRate:     errorRate(requests),
			P50Latency:    histogramPercentile(latency, 0.50),
			P95Latency:    histogramPercentile(latency, 0.95),
			P99Latency:    histogramPercentile(latency, 0.99),
		},
		Quotes: quoteSummary{
			Transitions: sumCounter(transitions, nil),
			Succeeded:   sumCounter(transitions, withLabel("outcome", "ok")),
			Illegal:     sumCounter(transitions, withLabel("outcome", "illegal")),
			Conflicts:   sumCounter(transitions, withLabel("outcome", "conflict")),
		},
		Activations: activationInfo{
			OK:          sumCounter(activations, withLabel("outcome", "ok")),
			Unavailable: sumCounter(activations, withLabel("outcome", "unavailable")),
			Errors:      sumCounter(activations, withLabel("outcome", "error")),
		},
		RateLimit: rateLimitInfo{
			Rejections: sumCounter(fam["quotedesk_ratelimit_rejections_total"], nil),
		},
		Audit: auditInfo{
			BufferSize:   gaugeValue(fam["quotedesk_audit_buffer_size"]),
			TotalFlushes: sumCounter(fam["quotedesk_audit_flushes_total"], nil),
			FlushErrors:  sumCounter(fam["quotedesk_audit_flushes_total"], withLabel("status", "error")),
			Entries:      sumCounter(fam["quotedesk_audit_entries_flushed_total"], nil),
		},
		Auth: authInfo{
			Failures:  sumCounter(fam["quotedesk_auth_failures_total"], nil),
			Successes: sumCounter(fam["quotedesk_auth_successes_total"], nil),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["quotedesk_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["quotedesk_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["quotedesk_db_pool_acquired_conns"]),
		},
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(time.Now().Unix()) - start,
		},
	}, nil
}

// --- Prometheus metric helpers ---

type metricFilter func(*dto.Metric) bool

func withLabel(name, value string) metricFilter {
	return func(m *dto.Metric) bool {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == name && lp.GetValue() == value {
				return true
			}
		}
		return false
	}
}

func sumCounter(f *dto.MetricFamily, keep metricFilter) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if keep != nil && !keep(m) {
			continue
		}
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 || ms[0].GetGauge() == nil {
		return 0
	}
	return ms[0].GetGauge().GetValue()
}

// errorRate is the share of requests answered with a 5xx status.
func errorRate(f *dto.MetricFamily) float64 {
	total := sumCounter(f, nil)
	if total == 0 {
		return 0
	}
	errs := sumCounter(f, func(m *dto.Metric) bool {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				return len(code) > 0 && code[0] == '5'
			}
		}
		return false
	})
	return errs / total
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
