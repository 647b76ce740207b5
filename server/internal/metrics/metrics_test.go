package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scrape fetches the handler output and parses it into metric families.
func scrape(t *testing.T, h http.Handler) map[string]*dto.MetricFamily {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(resp.Body)
	require.NoError(t, err)
	return mfs
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestHandler_ExposesRefresherMetrics(t *testing.T) {
	reg := NewRegistry()
	m := NewRefresherMetrics(reg)

	m.Cycles.WithLabelValues(ResultPublished).Inc()
	m.Cycles.WithLabelValues(ResultParseError).Add(2)
	m.SnapshotVersion.Set(4)

	mfs := scrape(t, Handler(reg))

	cycles, ok := mfs["livefeed_refresher_cycles_total"]
	require.True(t, ok, "cycles_total missing")
	got := map[string]float64{}
	for _, metric := range cycles.GetMetric() {
		got[labelValue(metric, "result")] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, 1.0, got[ResultPublished])
	assert.Equal(t, 2.0, got[ResultParseError])

	version, ok := mfs["livefeed_store_snapshot_version"]
	require.True(t, ok, "snapshot_version missing")
	assert.Equal(t, 4.0, version.GetMetric()[0].GetGauge().GetValue())

	_, ok = mfs["go_goroutines"]
	assert.True(t, ok, "go collector not registered")
}

func TestHandler_ExposesStreamMetrics(t *testing.T) {
	reg := NewRegistry()
	m := NewStreamMetrics(reg)

	m.ActiveSessions.WithLabelValues("sse").Set(3)
	m.MessagesSent.WithLabelValues("ws").Inc()

	mfs := scrape(t, Handler(reg))

	active := mfs["livefeed_stream_active_sessions"]
	require.NotNil(t, active)
	require.Len(t, active.GetMetric(), 1)
	assert.Equal(t, "sse", labelValue(active.GetMetric()[0], "transport"))
	assert.Equal(t, 3.0, active.GetMetric()[0].GetGauge().GetValue())

	sent := mfs["livefeed_stream_messages_sent_total"]
	require.NotNil(t, sent)
	assert.Equal(t, 1.0, sent.GetMetric()[0].GetCounter().GetValue())
}
