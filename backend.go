package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Backend is the remote side of the dashboard. Per-job-set failures of the bulk
// actions are reported in ActionResult.Failed; a returned error means the whole
// call failed.
type Backend interface {
	GetJobSets(ctx context.Context, req GetJobSetsRequest) ([]JobSet, error)
	CancelJobSets(ctx context.Context, queue string, jobSets []JobSet) (ActionResult, error)
	ReprioritizeJobSets(ctx context.Context, queue string, jobSets []JobSet, priority float64) (ActionResult, error)
}

const (
	jobSetsPath      = "/api/v1/lookout/jobsets"
	cancelPath       = "/v1/job/cancel"
	reprioritizePath = "/v1/job/reprioritize"
)

type jobSetsResponse struct {
	JobSetInfos []JobSet `json:"jobSetInfos"`
}

type cancelRequest struct {
	Queue    string `json:"queue"`
	JobSetID string `json:"jobSetId"`
}

type reprioritizeRequest struct {
	Queue       string  `json:"queue"`
	JobSetID    string  `json:"jobSetId"`
	NewPriority float64 `json:"newPriority"`
}

type reprioritizeResponse struct {
	ReprioritizationResults map[string]string `json:"reprioritizationResults"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// httpBackend talks to the Lookout API for listing and to the Armada API for
// cancel/reprioritize, one request per job set.
type httpBackend struct {
	lookoutURL string
	armadaURL  string
	client     *http.Client
	logger     *zap.Logger
}

func newHTTPBackend(lookoutURL, armadaURL string, timeout time.Duration, logger *zap.Logger) *httpBackend {
	return &httpBackend{
		lookoutURL: strings.TrimRight(lookoutURL, "/"),
		armadaURL:  strings.TrimRight(armadaURL, "/"),
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (b *httpBackend) GetJobSets(ctx context.Context, req GetJobSetsRequest) ([]JobSet, error) {
	var resp jobSetsResponse
	if err := b.post(ctx, b.lookoutURL+jobSetsPath, req, &resp); err != nil {
		return nil, fmt.Errorf("get job sets: %w", err)
	}
	if resp.JobSetInfos == nil {
		return []JobSet{}, nil
	}
	return resp.JobSetInfos, nil
}

func (b *httpBackend) CancelJobSets(ctx context.Context, queue string, jobSets []JobSet) (ActionResult, error) {
	return b.eachJobSet(ctx, jobSets, func(js JobSet) error {
		return b.post(ctx, b.armadaURL+cancelPath, cancelRequest{Queue: queue, JobSetID: js.JobSetID}, nil)
	}), nil
}

func (b *httpBackend) ReprioritizeJobSets(ctx context.Context, queue string, jobSets []JobSet, priority float64) (ActionResult, error) {
	return b.eachJobSet(ctx, jobSets, func(js JobSet) error {
		body := reprioritizeRequest{Queue: queue, JobSetID: js.JobSetID, NewPriority: priority}
		var resp reprioritizeResponse
		if err := b.post(ctx, b.armadaURL+reprioritizePath, body, &resp); err != nil {
			return err
		}
		return reprioritizationError(resp.ReprioritizationResults)
	}), nil
}

// eachJobSet applies fn to every job set and partitions the outcome. Once ctx is
// done the remaining job sets are reported as failed with the context error.
func (b *httpBackend) eachJobSet(ctx context.Context, jobSets []JobSet, fn func(JobSet) error) ActionResult {
	result := ActionResult{Succeeded: []JobSet{}, Failed: []FailedJobSet{}}
	for _, js := range jobSets {
		err := ctx.Err()
		if err == nil {
			err = fn(js)
		}
		if err != nil {
			b.logger.Warn("job set action failed",
				zap.String("job_set", js.JobSetID),
				zap.Error(err))
			result.Failed = append(result.Failed, FailedJobSet{JobSet: js, Reason: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, js)
	}
	return result
}

func reprioritizationError(results map[string]string) error {
	var failures []string
	for jobID, msg := range results {
		if msg != "" {
			failures = append(failures, fmt.Sprintf("%s: %s", jobID, msg))
		}
	}
	if len(failures) == 0 {
		return nil
	}
	sort.Strings(failures)
	return fmt.Errorf("%d job(s) not reprioritized: %s", len(failures), strings.Join(failures, "; "))
}

func (b *httpBackend) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, errorMessage(resp.Body))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 64*1024))
	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Message
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = "no error message"
	}
	return msg
}
