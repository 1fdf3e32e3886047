package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type armadaStub struct {
	mu            sync.Mutex
	listRequests  []GetJobSetsRequest
	cancelled     []cancelRequest
	reprioritized []reprioritizeRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *armadaStub) router() http.Handler {
	r := chi.NewRouter()
	r.Post(jobSetsPath, func(w http.ResponseWriter, r *http.Request) {
		var req GetJobSetsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Code: 3, Message: err.Error()})
			return
		}
		s.mu.Lock()
		s.listRequests = append(s.listRequests, req)
		s.mu.Unlock()

		if req.Queue == "broken" {
			writeJSON(w, http.StatusInternalServerError, apiError{Code: 13, Message: "database unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"jobSetInfos": []map[string]any{
				{
					"queue":                req.Queue,
					"jobSet":               "nightly",
					"jobsQueued":           3,
					"jobsRunning":          1,
					"latestSubmissionTime": "2024-05-01T10:00:00Z",
					"runningStats":         map[string]string{"shortest": "1m", "longest": "9m", "median": "4m"},
				},
			},
		})
	})
	r.Post(cancelPath, func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.cancelled = append(s.cancelled, req)
		s.mu.Unlock()

		switch req.JobSetID {
		case "locked":
			writeJSON(w, http.StatusForbidden, apiError{Code: 7, Message: "user cannot cancel jobs in queue q"})
		case "plain":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("  upstream reset  \n"))
		default:
			writeJSON(w, http.StatusOK, map[string]any{"cancelledIds": []string{"job-1"}})
		}
	})
	r.Post(reprioritizePath, func(w http.ResponseWriter, r *http.Request) {
		var req reprioritizeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.reprioritized = append(s.reprioritized, req)
		s.mu.Unlock()

		results := map[string]string{"job-1": ""}
		if req.JobSetID == "partial" {
			results["job-2"] = "job not found"
			results["job-3"] = "job already terminated"
		}
		writeJSON(w, http.StatusOK, reprioritizeResponse{ReprioritizationResults: results})
	})
	return r
}

func newStubBackend(t *testing.T) (*httpBackend, *armadaStub) {
	t.Helper()
	stub := &armadaStub{}
	srv := httptest.NewServer(stub.router())
	t.Cleanup(srv.Close)
	return newHTTPBackend(srv.URL+"/", srv.URL, 5*time.Second, zap.NewNop()), stub
}

func TestHTTPBackendGetJobSets(t *testing.T) {
	b, stub := newStubBackend(t)

	jobSets, err := b.GetJobSets(context.Background(), GetJobSetsRequest{Queue: "q", NewestFirst: true, ActiveOnly: true})
	require.NoError(t, err)

	require.Len(t, stub.listRequests, 1)
	assert.Equal(t, GetJobSetsRequest{Queue: "q", NewestFirst: true, ActiveOnly: true}, stub.listRequests[0])

	require.Len(t, jobSets, 1)
	js := jobSets[0]
	assert.Equal(t, "nightly", js.JobSetID)
	assert.Equal(t, uint32(3), js.JobsQueued)
	assert.Equal(t, uint32(1), js.JobsRunning)
	require.NotNil(t, js.RunningStats)
	assert.Equal(t, "4m", js.RunningStats.Median)
	assert.Nil(t, js.QueuedStats)
}

func TestHTTPBackendGetJobSetsError(t *testing.T) {
	b, _ := newStubBackend(t)

	_, err := b.GetJobSets(context.Background(), GetJobSetsRequest{Queue: "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "database unavailable")
}

func TestHTTPBackendCancelPartitionsResults(t *testing.T) {
	b, stub := newStubBackend(t)
	jobSets := []JobSet{{JobSetID: "ok"}, {JobSetID: "locked"}, {JobSetID: "plain"}}

	result, err := b.CancelJobSets(context.Background(), "q", jobSets)
	require.NoError(t, err)

	assert.Equal(t, []string{"ok"}, jobSetIDs(result.Succeeded))
	require.Len(t, result.Failed, 2)
	assert.Equal(t, "locked", result.Failed[0].JobSet.JobSetID)
	assert.Contains(t, result.Failed[0].Reason, "user cannot cancel jobs in queue q")
	assert.Equal(t, "plain", result.Failed[1].JobSet.JobSetID)
	assert.True(t, strings.HasSuffix(result.Failed[1].Reason, "upstream reset"))

	require.Len(t, stub.cancelled, 3)
	assert.Equal(t, cancelRequest{Queue: "q", JobSetID: "ok"}, stub.cancelled[0])
}

func TestHTTPBackendReprioritize(t *testing.T) {
	b, stub := newStubBackend(t)
	jobSets := []JobSet{{JobSetID: "clean"}, {JobSetID: "partial"}}

	result, err := b.ReprioritizeJobSets(context.Background(), "q", jobSets, 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"clean"}, jobSetIDs(result.Succeeded))
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "2 job(s) not reprioritized: job-2: job not found; job-3: job already terminated", result.Failed[0].Reason)

	require.Len(t, stub.reprioritized, 2)
	assert.Equal(t, reprioritizeRequest{Queue: "q", JobSetID: "clean", NewPriority: 5}, stub.reprioritized[0])
}

func TestHTTPBackendCancelledContextFailsRemaining(t *testing.T) {
	b, stub := newStubBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := b.CancelJobSets(ctx, "q", []JobSet{{JobSetID: "a"}, {JobSetID: "b"}})
	require.NoError(t, err)
	assert.Empty(t, result.Succeeded)
	assert.Len(t, result.Failed, 2)
	assert.Empty(t, stub.cancelled)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "nope", errorMessage(strings.NewReader(`{"code":5,"message":"nope"}`)))
	assert.Equal(t, "plain text", errorMessage(strings.NewReader("plain text\n")))
	assert.Equal(t, "no error message", errorMessage(strings.NewReader("")))
}
