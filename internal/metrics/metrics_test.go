package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollector_ObserveMutation(t *testing.T) {
	c := NewCollector("owl_care")

	c.ObserveMutation("vitals", "create", "reconciled", 20*time.Millisecond)
	c.ObserveMutation("vitals", "create", "reconciled", 30*time.Millisecond)
	c.ObserveMutation("vitals", "apply", "rolled_back", time.Millisecond)

	body := scrape(t, c)
	assert.Contains(t, body, `owl_care_mutations_total{op="create",resource="vitals",state="reconciled"} 2`)
	assert.Contains(t, body, `owl_care_mutations_total{op="apply",resource="vitals",state="rolled_back"} 1`)
	assert.Contains(t, body, `owl_care_mutation_duration_seconds_count{op="create",resource="vitals"} 2`)
}

func TestCollector_IndependentRegistries(t *testing.T) {
	a := NewCollector("owl_care")
	b := NewCollector("owl_care")

	a.ObserveFetch("vitals", "backend", "ok", time.Millisecond)

	assert.Contains(t, scrape(t, a), `owl_care_fetch_total{resource="vitals",result="ok",source="backend"} 1`)
	assert.NotContains(t, scrape(t, b), "owl_care_fetch_total{")
}

func TestCollector_Invalidations(t *testing.T) {
	c := NewCollector("owl_care")
	c.ObserveInvalidation("bathing")

	assert.Contains(t, scrape(t, c), `owl_care_invalidations_total{resource="bathing"} 1`)
}
