package weather

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livefeed/livefeed/pkg/types"
)

const singaporeBody = `{
  "coord": {"lon": 103.85, "lat": 1.29},
  "weather": [
    {"id": 803, "main": "Clouds", "description": "broken clouds", "icon": "04d"},
    {"id": 500, "main": "Rain", "description": "light rain", "icon": "10d"}
  ],
  "base": "stations",
  "main": {"temp": 302.15, "feels_like": 306.4, "pressure": 1009, "humidity": 70},
  "visibility": 10000,
  "wind": {"speed": 4.1, "deg": 160},
  "name": "Singapore",
  "cod": 200
}`

// RoundTripperFunc allows us to easily mock http.Client responses in tests.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:       endpoint,
		City:           "Singapore",
		APIKey:         "test-key",
		MaxRetries:     2,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
}

func TestParse_Valid(t *testing.T) {
	r, err := Parse([]byte(singaporeBody))
	require.NoError(t, err)

	assert.JSONEq(t, `{"id": 803, "main": "Clouds", "description": "broken clouds", "icon": "04d"}`, string(r.Weather))
	assert.JSONEq(t, `{"temp": 302.15, "feels_like": 306.4, "pressure": 1009, "humidity": 70}`, string(r.Main))
	assert.JSONEq(t, `{"speed": 4.1, "deg": 160}`, string(r.Wind))
}

func TestParse_MissingOptionalField(t *testing.T) {
	body := `{"weather": [{"main": "Clear"}], "main": {"humidity": 50}, "wind": {"deg": 120}}`
	r, err := Parse([]byte(body))
	require.NoError(t, err)
	assert.JSONEq(t, `{"deg": 120}`, string(r.Wind))
	assert.JSONEq(t, `{"humidity": 50}`, string(r.Main))
}

func TestParse_WrongTypedOptionalField(t *testing.T) {
	body := `{"weather": [{"id": "803"}], "main": {"temp": 300.1}, "wind": {"speed": 2, "deg": "NE"}}`
	r, err := Parse([]byte(body))
	require.NoError(t, err)
	assert.JSONEq(t, `{"speed": 2, "deg": "NE"}`, string(r.Wind))
	assert.JSONEq(t, `{"id": "803"}`, string(r.Weather))
}

func TestParse_ExtraFieldsPassThrough(t *testing.T) {
	body := `{"weather": [{"main": "Rain", "extra": true}], "main": {"temp": 300.1, "temp_kf": 0.5}, "wind": {}}`
	r, err := Parse([]byte(body))
	require.NoError(t, err)

	snap, err := types.Encode(r, time.Now())
	require.NoError(t, err)

	var out struct {
		Weather map[string]any `json:"weather"`
		Main    map[string]any `json:"main"`
		Wind    map[string]any `json:"wind"`
	}
	require.NoError(t, json.Unmarshal(snap.Payload(), &out))
	assert.Equal(t, 0.5, out.Main["temp_kf"])
	assert.Equal(t, 300.1, out.Main["temp"])
	assert.Equal(t, true, out.Weather["extra"])
	assert.Empty(t, out.Wind)
}

func TestParse_SerializesOnlySelectedBlocks(t *testing.T) {
	r, err := Parse([]byte(singaporeBody))
	require.NoError(t, err)

	b, err := json.Marshal(r)
	require.NoError(t, err)

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Len(t, out, 3)
	assert.Contains(t, out, "weather")
	assert.Contains(t, out, "main")
	assert.Contains(t, out, "wind")
	assert.NotContains(t, string(out["wind"]), "gust")
}

func TestParse_Deterministic(t *testing.T) {
	a, err := Parse([]byte(singaporeBody))
	require.NoError(t, err)
	b, err := Parse([]byte(singaporeBody))
	require.NoError(t, err)

	sa, _ := types.Encode(a, time.Now())
	sb, _ := types.Encode(b, time.Now().Add(time.Hour))
	assert.True(t, sa.Equal(sb), "identical bodies must produce equal snapshots")
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"missing weather", `{"main": {"temp": 1}, "wind": {"speed": 1}}`},
		{"empty weather", `{"weather": [], "main": {"temp": 1}, "wind": {"speed": 1}}`},
		{"weather wrong type", `{"weather": "sunny", "main": {"temp": 1}, "wind": {"speed": 1}}`},
		{"missing main", `{"weather": [{"main": "Clear"}], "wind": {"speed": 1}}`},
		{"null main", `{"weather": [{"main": "Clear"}], "main": null, "wind": {"speed": 1}}`},
		{"main not object", `{"weather": [{"main": "Clear"}], "main": [1, 2], "wind": {"speed": 1}}`},
		{"missing wind", `{"weather": [{"main": "Clear"}], "main": {"temp": 1}}`},
		{"wind not object", `{"weather": [{"main": "Clear"}], "main": {"temp": 1}, "wind": "calm"}`},
		{"weather entry not object", `{"weather": ["Clear"], "main": {"temp": 1}, "wind": {"speed": 1}}`},
		{"null weather entry", `{"weather": [null], "main": {"temp": 1}, "wind": {"speed": 1}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrParse), "got %v", err)
		})
	}
}

func TestProvider_Fetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Singapore", r.URL.Query().Get("q"))
		assert.Equal(t, "test-key", r.URL.Query().Get("appid"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(singaporeBody))
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL), srv.Client())
	v, err := p.Fetch(context.Background())
	require.NoError(t, err)

	r, ok := v.(Report)
	require.True(t, ok, "Fetch returned %T", v)
	assert.Contains(t, string(r.Weather), "broken clouds")
	assert.Equal(t, "openweathermap", p.Name())
}

func TestProvider_Fetch_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(singaporeBody))
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL), srv.Client())
	_, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

func TestProvider_Fetch_GivesUpAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL), srv.Client())
	_, err := p.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrFetch), "got %v", err)
	assert.EqualValues(t, 3, hits.Load(), "1 attempt + 2 retries")
}

func TestProvider_Fetch_NotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"cod":"404","message":"city not found"}`))
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL), srv.Client())
	_, err := p.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrFetch))
	assert.EqualValues(t, 1, hits.Load())
}

func TestProvider_Fetch_MalformedBodyIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"weather": []}`))
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL), srv.Client())
	_, err := p.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrParse), "got %v", err)
	assert.False(t, errors.Is(err, types.ErrFetch))
}

func TestProvider_Fetch_TransportError(t *testing.T) {
	client := &http.Client{Transport: RoundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})}
	cfg := testConfig("http://upstream.invalid/weather")
	cfg.MaxRetries = 0

	_, err := New(cfg, client).Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrFetch))
}

func TestProvider_Fetch_MissingAPIKey(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.APIKey = ""

	_, err := New(cfg, nil).Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrFetch))
}

func TestProvider_Fetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := New(testConfig(srv.URL), srv.Client()).Fetch(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrFetch))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBackoff_Truncates(t *testing.T) {
	b := newBackoff(100*time.Millisecond, 300*time.Millisecond)
	for i := 0; i < 10; i++ {
		d := b.next()
		assert.LessOrEqual(t, d, 375*time.Millisecond, "jitter bound exceeded at step %d", i)
	}
	assert.Equal(t, 300*time.Millisecond, b.current)
}
