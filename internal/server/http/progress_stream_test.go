package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

// readSSE parses the events of a finished stream.
func readSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e sseEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		out = append(out, e)
	}
	return out
}

func TestStreamProgress_TerminalJob(t *testing.T) {
	ts := newTestHTTPServer(t, nil, nil)
	job := ts.seedJob(t, "s1", domain.JobStatusFailed)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/jobs/"+job.ID.String()+"/stream", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	events := readSSE(t, rr.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "completed", events[0].EventType)
	assert.Equal(t, string(domain.JobStatusFailed), events[0].Status)
}

func TestStreamProgress_FollowsJobToCompletion(t *testing.T) {
	ts := newTestHTTPServer(t, nil, nil)
	job := ts.seedJob(t, "s1")

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/jobs/"+job.ID.String()+"/stream", nil))
	}()

	ctx := context.Background()
	time.Sleep(20 * time.Millisecond)
	_, err := ts.repo.Update(ctx, "s1", job.ID, domain.Transition(domain.JobStatusCreated, domain.JobStatusInProgress))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = ts.repo.Update(ctx, "s1", job.ID, domain.Transition(domain.JobStatusInProgress, domain.JobStatusFailed))
	require.NoError(t, err)

	var rr *httptest.ResponseRecorder
	select {
	case rr = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after job reached a terminal status")
	}

	events := readSSE(t, rr.Body.String())
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, "stream_started", events[0].EventType)
	last := events[len(events)-1]
	assert.Equal(t, "completed", last.EventType)
	assert.Equal(t, string(domain.JobStatusFailed), last.Status)
}

func TestStreamProgress_Timeout(t *testing.T) {
	ts := newTestHTTPServer(t, nil, nil)
	ts.streamMaxDuration = 30 * time.Millisecond
	job := ts.seedJob(t, "s1")

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/jobs/"+job.ID.String()+"/stream", nil))
	events := readSSE(t, rr.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "timeout", events[len(events)-1].EventType)
}

func TestStreamProgress_NotFound(t *testing.T) {
	ts := newTestHTTPServer(t, nil, nil)
	rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/jobs/"+domain.NewJob("s1", "x", time.Now()).ID.String()+"/stream", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
