package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"solar-pump-rl/internal/rl"
	"solar-pump-rl/pkg/config"
	"solar-pump-rl/pkg/logger"
)

// owmResponse holds the fields read from the current-weather endpoint
type owmResponse struct {
	Clouds struct {
		All *float64 `json:"all"`
	} `json:"clouds"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Sys struct {
		Sunrise int64 `json:"sunrise"`
		Sunset  int64 `json:"sunset"`
	} `json:"sys"`
}

// Client fetches the current weather from OpenWeatherMap
type Client struct {
	config     config.WeatherConfig
	httpClient *http.Client
	breaker    *Breaker
	cache      *Cache
}

// NewClient creates a client with its own breaker
func NewClient(cfg config.WeatherConfig) *Client {
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    NewBreaker("openweathermap", cfg.MaxFailures, cfg.ResetTimeout),
		cache:      NewCache(cfg.CacheTTL),
	}
}

// Enabled reports whether remote lookups are configured
func (c *Client) Enabled() bool {
	return c.config.Enabled && c.config.APIKey != ""
}

// Breaker exposes the client's circuit breaker
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Cache exposes the client's lookup cache
func (c *Client) Cache() *Cache {
	return c.cache
}

// Fetch returns the current weather, served from the cache while it is
// fresh. Errors are returned as is so callers can decide on a fallback.
func (c *Client) Fetch(ctx context.Context) (rl.WeatherContext, error) {
	if !c.Enabled() {
		return rl.WeatherContext{}, fmt.Errorf("weather lookup disabled")
	}
	if w, ok := c.cache.Get(); ok {
		return w, nil
	}

	var result rl.WeatherContext
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		w, err := c.fetch(ctx)
		if err != nil {
			return err
		}
		result = w
		return nil
	})
	if err != nil {
		return rl.WeatherContext{}, err
	}
	c.cache.Put(result)
	return result, nil
}

func (c *Client) fetch(ctx context.Context) (rl.WeatherContext, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(c.config.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.config.Lon, 'f', -1, 64))
	q.Set("appid", c.config.APIKey)
	q.Set("units", "metric")
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/data/2.5/weather?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return rl.WeatherContext{}, fmt.Errorf("failed to build weather request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rl.WeatherContext{}, fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rl.WeatherContext{}, fmt.Errorf("weather request returned status %d", resp.StatusCode)
	}

	var body owmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return rl.WeatherContext{}, fmt.Errorf("failed to decode weather response: %w", err)
	}
	if body.Clouds.All == nil {
		return rl.WeatherContext{}, fmt.Errorf("weather response missing cloud cover")
	}

	w := rl.WeatherContext{
		CloudCover:  *body.Clouds.All,
		AmbientTemp: body.Main.Temp,
	}
	if body.Sys.Sunrise > 0 && body.Sys.Sunset > 0 {
		w.Sunrise = time.Unix(body.Sys.Sunrise, 0)
		w.Sunset = time.Unix(body.Sys.Sunset, 0)
	}
	return w, nil
}

// Resolve returns the current weather or the neutral context when the lookup
// fails. The second value reports a fallback after a failed lookup; a disabled
// client returns the neutral context without reporting one.
func (c *Client) Resolve(ctx context.Context) (rl.WeatherContext, bool) {
	if !c.Enabled() {
		return rl.NeutralWeather(), false
	}
	w, err := c.Fetch(ctx)
	if err != nil {
		logger.GetLogger().Warnf("Weather fetch failed, using neutral context: %v", err)
		return rl.NeutralWeather(), true
	}
	return w, false
}
