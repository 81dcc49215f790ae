package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics endpoint.
type Summary struct {
	HTTP       httpSummary       `json:"http"`
	Membership membershipSummary `json:"membership"`
	Billing    billingSummary    `json:"billing"`
	Auth       authInfo          `json:"auth"`
	RateLimit  rateLimitInfo     `json:"rateLimit"`
	Activity   activityInfo      `json:"activity"`
	DB         dbInfo            `json:"db"`
	Server     serverInfo        `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type membershipSummary struct {
	Added       float64 `json:"added"`
	Removed     float64 `json:"removed"`
	RoleChanges float64 `json:"roleChanges"`
	InviteOps   float64 `json:"inviteOps"`
}

type billingSummary struct {
	WebhookEvents  float64 `json:"webhookEvents"`
	WebhookErrors  float64 `json:"webhookErrors"`
	SeatSyncs      float64 `json:"seatSyncs"`
	SeatSyncErrors float64 `json:"seatSyncErrors"`
	P95SeatSync    float64 `json:"p95SeatSync"`
}

type authInfo struct {
	LoginCodesIssued float64 `json:"loginCodesIssued"`
	Failures         float64 `json:"failures"`
	Successes        float64 `json:"successes"`
}

type rateLimitInfo struct {
	Rejections float64 `json:"rejections"`
}

type activityInfo struct {
	Events float64 `json:"events"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.handleLive(w)
	}
}

func (m *Metrics) handleLive(w http.ResponseWriter) {
	families, err := m.registry.Gather()
	if err != nil {
		http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
		return
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	summary := Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["roster_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["roster_http_requests_total"]),
			P50Latency:    histogramPercentile(fam["roster_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["roster_http_request_duration_seconds"], 0.95),
			P99Latency:    histogramPercentile(fam["roster_http_request_duration_seconds"], 0.99),
		},
		Membership: membershipSummary{
			Added:       counterWithLabel(fam["roster_membership_changes_total"], "change", "added"),
			Removed:     counterWithLabel(fam["roster_membership_changes_total"], "change", "removed"),
			RoleChanges: counterWithLabel(fam["roster_membership_changes_total"], "change", "role_changed"),
			InviteOps:   sumCounter(fam["roster_invites_total"]),
		},
		Billing: billingSummary{
			WebhookEvents:  sumCounter(fam["roster_billing_webhook_events_total"]),
			WebhookErrors:  counterWithLabel(fam["roster_billing_webhook_events_total"], "outcome", "error"),
			SeatSyncs:      sumCounter(fam["roster_billing_seat_sync_total"]),
			SeatSyncErrors: counterWithLabel(fam["roster_billing_seat_sync_total"], "outcome", "error"),
			P95SeatSync:    histogramPercentile(fam["roster_billing_seat_sync_duration_seconds"], 0.95),
		},
		Auth: authInfo{
			LoginCodesIssued: counterValue(fam["roster_login_codes_issued_total"]),
			Failures:         sumCounter(fam["roster_auth_failures_total"]),
			Successes:        sumCounter(fam["roster_auth_successes_total"]),
		},
		RateLimit: rateLimitInfo{
			Rejections: sumCounter(fam["roster_ratelimit_rejections_total"]),
		},
		Activity: activityInfo{
			Events: counterValue(fam["roster_activity_events_total"]),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["roster_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["roster_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["roster_db_pool_acquired_conns"]),
		},
		Server: serverInfo{
			StartTime:     gaugeValue(fam["roster_server_start_time_seconds"]),
			UptimeSeconds: float64(time.Now().Unix()) - gaugeValue(fam["roster_server_start_time_seconds"]),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	_ = json.NewEncoder(w).Encode(summary)
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
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
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

func counterValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetCounter() != nil {
		return ms[0].GetCounter().GetValue()
	}
	return 0
}

func counterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labelName && lp.GetValue() == labelValue {
				if m.GetCounter() != nil {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '4' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
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
			// Linear interpolation within this bucket.
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

	// If we didn't find it, return the last finite bucket upper bound.
	if len(buckets) > 0 {
		for i := len(buckets) - 1; i >= 0; i-- {
			if !math.IsInf(buckets[i].upperBound, 1) {
				return buckets[i].upperBound
			}
		}
	}
	return 0
}
