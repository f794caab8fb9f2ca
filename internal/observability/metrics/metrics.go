package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// TranscodeJobLabel identifies a transcode job event by media type and
// lifecycle event name.
type TranscodeJobLabel struct {
	MediaType string
	Event     string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// transcode job lifecycle events, webhook intake outcomes, and cleanup
// activity. It coordinates concurrent writers via a RWMutex while exposing
// atomic gauges for values set by the background worker.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	transcodeEvents  map[TranscodeJobLabel]uint64
	webhookEvents    map[string]uint64
	purgedMedia      uint64
	staleTranscoding atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		transcodeEvents: make(map[TranscodeJobLabel]uint64),
		webhookEvents:   make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not
// require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveTranscodeJob records a transcode lifecycle event (submitted,
// completed, failed, retry, submit_error) keyed by media type.
func (r *Recorder) ObserveTranscodeJob(mediaType, event string) {
	label := TranscodeJobLabel{
		MediaType: normalizeName(mediaType),
		Event:     normalizeName(event),
	}
	r.mu.Lock()
	r.transcodeEvents[label]++
	r.mu.Unlock()
}

// ObserveWebhook records the outcome of one provider callback delivery
// (completed, failed, duplicate, rejected, malformed).
func (r *Recorder) ObserveWebhook(outcome string) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.webhookEvents[normalized]++
	r.mu.Unlock()
}

// AddPurgedMedia accumulates the number of failed records reclaimed by the
// cleanup worker.
func (r *Recorder) AddPurgedMedia(count int) {
	if count <= 0 {
		return
	}
	r.mu.Lock()
	r.purgedMedia += uint64(count)
	r.mu.Unlock()
}

// SetStaleTranscoding records the latest count of records stuck in the
// transcoding state past the monitoring threshold.
func (r *Recorder) SetStaleTranscoding(count int) {
	r.staleTranscoding.Store(int64(count))
}

// StaleTranscoding exposes the most recent staleness gauge value.
func (r *Recorder) StaleTranscoding() int64 {
	return r.staleTranscoding.Load()
}

// TranscodeJobCounts returns a copy of the transcode event counters for
// testing and reporting purposes.
func (r *Recorder) TranscodeJobCounts() map[TranscodeJobLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[TranscodeJobLabel]uint64, len(r.transcodeEvents))
	for k, v := range r.transcodeEvents {
		events[k] = v
	}
	return events
}

// WebhookCounts returns a copy of the webhook outcome counters.
func (r *Recorder) WebhookCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[string]uint64, len(r.webhookEvents))
	for k, v := range r.webhookEvents {
		events[k] = v
	}
	return events
}

// PurgedMedia exposes the cumulative purge counter.
func (r *Recorder) PurgedMedia() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.purgedMedia
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.transcodeEvents = make(map[TranscodeJobLabel]uint64)
	r.webhookEvents = make(map[string]uint64)
	r.purgedMedia = 0
	r.staleTranscoding.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus
// text exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	transcodeLabels := r.sortedTranscodeLabels()
	webhookOutcomes := r.sortedWebhookOutcomes()

	fmt.Fprintln(w, "# HELP mediaforge_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE mediaforge_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "mediaforge_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP mediaforge_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE mediaforge_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "mediaforge_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP mediaforge_transcode_jobs_total Transcode job lifecycle events by media type and event")
	fmt.Fprintln(w, "# TYPE mediaforge_transcode_jobs_total counter")
	for _, label := range transcodeLabels {
		count := r.transcodeEvents[label]
		fmt.Fprintf(w, "mediaforge_transcode_jobs_total{type=\"%s\",event=\"%s\"} %d\n", label.MediaType, label.Event, count)
	}

	fmt.Fprintln(w, "# HELP mediaforge_webhook_deliveries_total Provider callback deliveries by outcome")
	fmt.Fprintln(w, "# TYPE mediaforge_webhook_deliveries_total counter")
	for _, outcome := range webhookOutcomes {
		count := r.webhookEvents[outcome]
		fmt.Fprintf(w, "mediaforge_webhook_deliveries_total{outcome=\"%s\"} %d\n", outcome, count)
	}

	fmt.Fprintln(w, "# HELP mediaforge_purged_media_total Failed media records reclaimed by the cleanup worker")
	fmt.Fprintln(w, "# TYPE mediaforge_purged_media_total counter")
	fmt.Fprintf(w, "mediaforge_purged_media_total %d\n", r.purgedMedia)

	fmt.Fprintln(w, "# HELP mediaforge_stale_transcoding Records stuck in the transcoding state past the monitoring threshold")
	fmt.Fprintln(w, "# TYPE mediaforge_stale_transcoding gauge")
	fmt.Fprintf(w, "mediaforge_stale_transcoding %d\n", r.staleTranscoding.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedTranscodeLabels() []TranscodeJobLabel {
	labels := make([]TranscodeJobLabel, 0, len(r.transcodeEvents))
	for label := range r.transcodeEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].MediaType != labels[j].MediaType {
			return labels[i].MediaType < labels[j].MediaType
		}
		return labels[i].Event < labels[j].Event
	})
	return labels
}

func (r *Recorder) sortedWebhookOutcomes() []string {
	outcomes := make([]string, 0, len(r.webhookEvents))
	for outcome := range r.webhookEvents {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	return outcomes
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// normalizePath collapses path segments that look like identifiers so metric
// cardinality stays bounded.
func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "/"
	}
	segments := strings.Split(trimmed, "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		if looksLikeIdentifier(segment) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) < 16 {
		return false
	}
	for _, r := range segment {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
