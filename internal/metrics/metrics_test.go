package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector("engram")

	c.MemoryCreated(2)
	c.MemoryCreated(1)
	c.RetrievalDone(true)
	c.RetrievalDone(false)
	c.ProviderCall("openai", "embed", 10*time.Millisecond, "rate_limited")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.MemoriesCreated))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.AutoLinksCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.RetrievalQueries))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RetrievalTruncated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ProviderErrors.WithLabelValues("openai", "rate_limited")))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.MemoryCreated(1)
	c.RetrievalDone(true)
	c.RerankFallback("retrieval")
	c.CacheLookup(true)
	c.MigrationBatch(20)
	c.EventDropped()
	c.ObserveHTTP("GET", "/x", 200, time.Millisecond)
	assert.Nil(t, c.Registry())
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("engram")
	c.MigrationBatch(40)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "engram_migration_processed_memories 40"))
}
