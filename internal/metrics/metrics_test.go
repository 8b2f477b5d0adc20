package metrics

import (
	"testing"
	"time"

	"ddalti/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		IncQueued()
		IncIngestRun("ok")
		IncRateLimited()
		IncEnrich("artist", "cache")
		IncImage("saved")
		ObserveBotUpdate("/stats", 10*time.Millisecond)
	})
}

func TestObservePost(t *testing.T) {
	before := testutil.ToFloat64(postsTotal.WithLabelValues("twitter", "success"))
	ObservePost("twitter", "success", 250*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(postsTotal.WithLabelValues("twitter", "success")))
}

func TestSetQueueSize(t *testing.T) {
	SetQueueSize(models.QueueStats{Total: 6, Pending: 3, Completed: 1, Failed: 1, Retry: 1})
	assert.Equal(t, 3.0, testutil.ToFloat64(queueSize.WithLabelValues(models.LabelPending)))
	assert.Equal(t, 1.0, testutil.ToFloat64(queueSize.WithLabelValues(models.LabelRetrying)))
}

func TestAddIngestTicketsIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(ingestTickets.WithLabelValues("hot"))
	AddIngestTickets("hot", 0)
	AddIngestTickets("hot", 4)
	assert.Equal(t, before+4, testutil.ToFloat64(ingestTickets.WithLabelValues("hot")))
}
