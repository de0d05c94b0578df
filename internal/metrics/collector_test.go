package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lehigh-university-libraries/imagebatch/internal/batch"
	"github.com/lehigh-university-libraries/imagebatch/internal/models"
)

func TestObserveItems(t *testing.T) {
	c := NewCollector("test")

	for _, status := range []models.ItemStatus{models.StatusDone, models.StatusError, models.StatusDone} {
		c.Observe(batch.Event{Kind: batch.EventItem, Item: &models.WorkItem{ID: 0, Status: models.StatusProcessing}})
		c.Observe(batch.Event{Kind: batch.EventItem, Item: &models.WorkItem{ID: 0, Status: status}})
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(c.itemsTotal.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.itemsTotal.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.itemDuration))
}

func TestObserveState(t *testing.T) {
	c := NewCollector("test")

	c.Observe(batch.Event{Kind: batch.EventState, State: &models.RunState{IsRunning: true, CurrentIndex: 3}})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runInProgress))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.currentItem))

	c.Observe(batch.Event{Kind: batch.EventState, State: &models.RunState{}})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.runInProgress))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.currentItem))
}

func TestRecordRun(t *testing.T) {
	c := NewCollector("test")

	c.Observe(batch.Event{Kind: batch.EventDone, Summary: &models.Summary{Total: 2, Done: 2, Duration: time.Second}})
	c.Observe(batch.Event{Kind: batch.EventDone, Summary: &models.Summary{Total: 2, Done: 1, Pending: 1}})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("stopped")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	c := NewCollector("imagebatch")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.Handle("GET /metrics", c.Handler())
	srv := httptest.NewServer(c.Middleware(mux))
	defer srv.Close()

	for i := range 3 {
		resp, err := http.Get(fmt.Sprintf("%s/api/items/%d", srv.URL, i))
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "GET /api/items/{id}", "4xx")))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "imagebatch_http_requests_total"))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{200, "2xx"},
		{202, "2xx"},
		{302, "3xx"},
		{409, "4xx"},
		{502, "5xx"},
		{101, "101"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, statusCode(tt.code))
	}
}
