package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"vmorch/pkg/provider"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	r.RecordPoll("docker", provider.StatusRunning)
	r.RecordPoll("docker", provider.StatusRunning)
	r.RecordPoll("docker", provider.StatusSucceeded)
	r.RecordPollError("docker", provider.Transient(errors.New("reset")))
	r.RecordPollError("docker", provider.ErrNotFound)
	r.RecordPollError("docker", errors.New("bad"))
	r.RecordLogLines(3)
	r.RecordLogLines(0)
	r.RecordRun("docker", "succeeded", 90*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.polls.WithLabelValues("docker", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.polls.WithLabelValues("docker", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pollErrors.WithLabelValues("docker", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pollErrors.WithLabelValues("docker", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pollErrors.WithLabelValues("docker", "fatal")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.logLines))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("docker", "succeeded")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.runDuration))
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordPoll("x", provider.StatusRunning)
		r.RecordPollError("x", errors.New("e"))
		r.RecordLogLines(1)
		r.RecordRun("x", "failed", time.Second)
	})
}

func TestRecorder_Exposition(t *testing.T) {
	r := NewRecorder()
	r.RecordRun("gitlab", "interrupted", time.Minute)

	rec := httptest.NewRecorder()
	promhttp.HandlerFor(r.Registry(), promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `vmorch_runs_total{outcome="interrupted",provider="gitlab"} 1`), body)
}
