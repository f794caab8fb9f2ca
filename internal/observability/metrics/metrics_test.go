package metrics

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestObserveRequestAndNormalizePath(t *testing.T) {
	recorder := New()

	type testCase struct {
		name     string
		method   string
		path     string
		status   int
		duration time.Duration
	}

	cases := []testCase{
		{
			name:     "root path",
			method:   "get",
			path:     "/",
			status:   200,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "empty path",
			method:   "GET",
			path:     "",
			status:   200,
			duration: 25 * time.Millisecond,
		},
		{
			name:     "uuid segment",
			method:   "post",
			path:     "/api/media/5f1c9b2e-3d4a-4f6b-9c8d-7e6f5a4b3c2d/transcode",
			status:   202,
			duration: 100 * time.Millisecond,
		},
		{
			name:     "short segments untouched",
			method:   "GET",
			path:     "/api/media",
			status:   200,
			duration: 10 * time.Millisecond,
		},
	}

	expectedCounts := make(map[requestLabel]struct {
		count    uint64
		duration time.Duration
	})

	for _, tc := range cases {
		recorder.ObserveRequest(tc.method, tc.path, tc.status, tc.duration)

		label := requestLabel{
			method: strings.ToUpper(tc.method),
			path:   normalizePath(tc.path),
			status: fmt.Sprintf("%d", tc.status),
		}
		current := expectedCounts[label]
		current.count++
		current.duration += tc.duration
		expectedCounts[label] = current
	}

	if len(recorder.requestCount) != len(expectedCounts) {
		t.Fatalf("unexpected number of labels: got %d want %d", len(recorder.requestCount), len(expectedCounts))
	}

	for label, expected := range expectedCounts {
		gotCount := recorder.requestCount[label]
		gotDuration := recorder.requestDuration[label]
		if gotCount != expected.count {
			t.Errorf("count mismatch for %+v: got %d want %d", label, gotCount, expected.count)
		}
		if gotDuration != expected.duration {
			t.Errorf("duration mismatch for %+v: got %s want %s", label, gotDuration, expected.duration)
		}
	}

	labels := recorder.sortedRequestLabels()
	sortedExpected := make([]requestLabel, 0, len(expectedCounts))
	for label := range expectedCounts {
		sortedExpected = append(sortedExpected, label)
	}
	sort.Slice(sortedExpected, func(i, j int) bool {
		if sortedExpected[i].method != sortedExpected[j].method {
			return sortedExpected[i].method < sortedExpected[j].method
		}
		if sortedExpected[i].path != sortedExpected[j].path {
			return sortedExpected[i].path < sortedExpected[j].path
		}
		return sortedExpected[i].status < sortedExpected[j].status
	})

	if len(labels) != len(sortedExpected) {
		t.Fatalf("sorted labels length mismatch: got %d want %d", len(labels), len(sortedExpected))
	}

	for i := range labels {
		if labels[i] != sortedExpected[i] {
			t.Errorf("sorted label %d mismatch: got %+v want %+v", i, labels[i], sortedExpected[i])
		}
	}
}

func TestNormalizePathCollapsesIdentifiers(t *testing.T) {
	cases := map[string]string{
		"/api/media/5f1c9b2e-3d4a-4f6b-9c8d-7e6f5a4b3c2d": "/api/media/:id",
		"/api/media/abcdef0123456789/retry":               "/api/media/:id/retry",
		"/api/media":                                      "/api/media",
		"/healthz":                                        "/healthz",
		"":                                                "/",
	}
	for input, want := range cases {
		if got := normalizePath(input); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestTranscodeAndWebhookCountersConcurrent(t *testing.T) {
	recorder := New()

	var wg sync.WaitGroup
	submissions := 64
	deliveries := 48

	wg.Add(submissions + deliveries)
	for i := 0; i < submissions; i++ {
		go func() {
			defer wg.Done()
			recorder.ObserveTranscodeJob("video", "submitted")
		}()
	}
	for i := 0; i < deliveries; i++ {
		go func() {
			defer wg.Done()
			recorder.ObserveWebhook("completed")
		}()
	}
	wg.Wait()

	jobs := recorder.TranscodeJobCounts()
	if count := jobs[TranscodeJobLabel{MediaType: "video", Event: "submitted"}]; count != uint64(submissions) {
		t.Fatalf("unexpected submitted count: got %d want %d", count, submissions)
	}
	webhooks := recorder.WebhookCounts()
	if count := webhooks["completed"]; count != uint64(deliveries) {
		t.Fatalf("unexpected completed count: got %d want %d", count, deliveries)
	}
}

func TestPurgeAndStalenessGauges(t *testing.T) {
	recorder := New()

	recorder.AddPurgedMedia(3)
	recorder.AddPurgedMedia(0)
	recorder.AddPurgedMedia(-2)
	recorder.AddPurgedMedia(4)
	if got := recorder.PurgedMedia(); got != 7 {
		t.Fatalf("unexpected purge total: got %d want 7", got)
	}

	recorder.SetStaleTranscoding(5)
	recorder.SetStaleTranscoding(2)
	if got := recorder.StaleTranscoding(); got != 2 {
		t.Fatalf("unexpected staleness gauge: got %d want 2", got)
	}

	recorder.Reset()
	if recorder.PurgedMedia() != 0 || recorder.StaleTranscoding() != 0 {
		t.Fatal("reset should clear purge counter and staleness gauge")
	}
}

func TestWriteAndHandlerOutput(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("GET", "/api/media/5f1c9b2e-3d4a-4f6b-9c8d-7e6f5a4b3c2d", 200, 150*time.Millisecond)
	recorder.ObserveRequest("get", "/api/media/00112233445566778899aabbccddeeff/", 200, 50*time.Millisecond)
	recorder.ObserveRequest("POST", "/api/media", 201, time.Second)

	recorder.ObserveTranscodeJob("video", "submitted")
	recorder.ObserveTranscodeJob("video", "completed")
	recorder.ObserveTranscodeJob("Audio", " submitted ")

	recorder.ObserveWebhook("completed")
	recorder.ObserveWebhook("duplicate")
	recorder.ObserveWebhook("rejected")
	recorder.ObserveWebhook("rejected")

	recorder.AddPurgedMedia(6)
	recorder.SetStaleTranscoding(1)

	var buf bytes.Buffer
	recorder.Write(&buf)

	expected := `# HELP mediaforge_http_requests_total Total number of HTTP requests processed by the API
# TYPE mediaforge_http_requests_total counter
mediaforge_http_requests_total{method="GET",path="/api/media/:id",status="200"} 2
mediaforge_http_requests_total{method="POST",path="/api/media",status="201"} 1
# HELP mediaforge_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds
# TYPE mediaforge_http_request_duration_seconds_sum counter
mediaforge_http_request_duration_seconds_sum{method="GET",path="/api/media/:id",status="200"} 0.200000
mediaforge_http_request_duration_seconds_sum{method="POST",path="/api/media",status="201"} 1.000000
# HELP mediaforge_transcode_jobs_total Transcode job lifecycle events by media type and event
# TYPE mediaforge_transcode_jobs_total counter
mediaforge_transcode_jobs_total{type="audio",event="submitted"} 1
mediaforge_transcode_jobs_total{type="video",event="completed"} 1
mediaforge_transcode_jobs_total{type="video",event="submitted"} 1
# HELP mediaforge_webhook_deliveries_total Provider callback deliveries by outcome
# TYPE mediaforge_webhook_deliveries_total counter
mediaforge_webhook_deliveries_total{outcome="completed"} 1
mediaforge_webhook_deliveries_total{outcome="duplicate"} 1
mediaforge_webhook_deliveries_total{outcome="rejected"} 2
# HELP mediaforge_purged_media_total Failed media records reclaimed by the cleanup worker
# TYPE mediaforge_purged_media_total counter
mediaforge_purged_media_total 6
# HELP mediaforge_stale_transcoding Records stuck in the transcoding state past the monitoring threshold
# TYPE mediaforge_stale_transcoding gauge
mediaforge_stale_transcoding 1`

	if diff := compareLines(buf.String(), expected); diff != "" {
		t.Fatalf("unexpected write output:\n%s", diff)
	}

	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))

	if contentType := res.Result().Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/plain") {
		t.Fatalf("unexpected content type: %s", contentType)
	}

	if diff := compareLines(res.Body.String(), expected); diff != "" {
		t.Fatalf("unexpected handler output:\n%s", diff)
	}
}

func compareLines(actual, expected string) string {
	actualLines := strings.Split(strings.TrimSpace(actual), "\n")
	expectedLines := strings.Split(strings.TrimSpace(expected), "\n")
	if len(actualLines) != len(expectedLines) {
		return formatDiff(actualLines, expectedLines)
	}
	for i := range actualLines {
		if actualLines[i] != expectedLines[i] {
			return formatDiff(actualLines, expectedLines)
		}
	}
	return ""
}

func formatDiff(actual, expected []string) string {
	var b strings.Builder
	b.WriteString("expected\n")
	for _, line := range expected {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("got\n")
	for _, line := range actual {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
