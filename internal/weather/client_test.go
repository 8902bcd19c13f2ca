package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solar-pump-rl/internal/rl"
	"solar-pump-rl/pkg/config"
)

func testConfig(baseURL string) config.WeatherConfig {
	return config.WeatherConfig{
		Enabled:      true,
		APIKey:       "secret",
		Lat:          45.5,
		Lon:          -73.25,
		BaseURL:      baseURL,
		Timeout:      time.Second,
		MaxFailures:  2,
		ResetTimeout: time.Minute,
	}
}

func TestFetchParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/2.5/weather", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		assert.Equal(t, "45.5", r.URL.Query().Get("lat"))
		assert.Equal(t, "-73.25", r.URL.Query().Get("lon"))
		w.Write([]byte(`{"clouds":{"all":75},"main":{"temp":18.5},"sys":{"sunrise":1700000000,"sunset":1700040000}}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	w, err := c.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 75.0, w.CloudCover)
	assert.Equal(t, 18.5, w.AmbientTemp)
	assert.True(t, w.Sunrise.Equal(time.Unix(1700000000, 0)))
	assert.True(t, w.Sunset.Equal(time.Unix(1700040000, 0)))
}

func TestFetchMissingCloudsIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"main":{"temp":18.5}}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).Fetch(context.Background())
	assert.Error(t, err)
}

func TestResolveFallsBackToNeutral(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w, fallback := NewClient(testConfig(srv.URL)).Resolve(context.Background())
	assert.True(t, fallback)
	assert.Equal(t, rl.NeutralWeather(), w)
	assert.Equal(t, 50.0, w.CloudCover)
	assert.False(t, w.HasSunTimes())
}

func TestResolveDisabledSkipsRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.APIKey = ""
	w, fallback := NewClient(cfg).Resolve(context.Background())
	assert.False(t, fallback, "a disabled lookup is not a failure")
	assert.Equal(t, rl.NeutralWeather(), w)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestFetchHonoursContextTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient(testConfig(srv.URL)).Fetch(ctx)
	assert.Error(t, err)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	ctx := context.Background()

	_, err := c.Fetch(ctx)
	require.Error(t, err)
	_, err = c.Fetch(ctx)
	require.Error(t, err)
	assert.Equal(t, Open, c.Breaker().State())

	_, err = c.Fetch(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker("test", 1, time.Minute)
	b.now = func() time.Time { return now }

	fail := errors.New("boom")
	ctx := context.Background()

	assert.Equal(t, fail, b.Execute(ctx, func(context.Context) error { return fail }))
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return nil }), ErrCircuitOpen)

	now = now.Add(time.Minute)
	assert.Equal(t, fail, b.Execute(ctx, func(context.Context) error { return fail }))
	assert.Equal(t, Open, b.State())

	now = now.Add(time.Minute)
	assert.NoError(t, b.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, Closed, b.State())
}

func TestFetchServesFromCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"clouds":{"all":30},"main":{"temp":21},"sys":{"sunrise":1700000000,"sunset":1700040000}}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.CacheTTL = 10 * time.Minute
	c := NewClient(cfg)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.Cache().now = func() time.Time { return now }
	ctx := context.Background()

	first, err := c.Fetch(ctx)
	require.NoError(t, err)
	second, err := c.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	now = now.Add(10 * time.Minute)
	_, err = c.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	stats := c.Cache().Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(2), stats.Updates)
}

func TestCacheDisabled(t *testing.T) {
	c := NewCache(0)
	c.Put(rl.WeatherContext{CloudCover: 10})
	_, ok := c.Get()
	assert.False(t, ok)
}
