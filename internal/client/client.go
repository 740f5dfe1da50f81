package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/validation"
)

// ForecastDays is the number of daily records requested and kept.
const ForecastDays = 5

// DefaultIconBaseURL serves Weatherbit condition icons.
const DefaultIconBaseURL = "https://www.weatherbit.io/static/img/icons"

type WeatherClient interface {
	Current(ctx context.Context, zipCode string) (models.CurrentWeather, error)
	Forecast(ctx context.Context, zipCode string, days int) (models.Forecast, error)
	IconURL(code string) string
	ValidateAPIKey(ctx context.Context) error
}

type WeatherbitClient struct {
	apiKey         string
	apiURL         string
	iconBaseURL    string
	timeout        time.Duration
	client         *http.Client
	breaker        *gobreaker.CircuitBreaker
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	now            func() time.Time
}

func NewWeatherbitClient(apiKey, apiURL string, timeout time.Duration) (*WeatherbitClient, error) {
	return NewWeatherbitClientWithRetry(apiKey, apiURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

func NewWeatherbitClientWithRetry(apiKey, apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*WeatherbitClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrAuth)
	}
	if _, err := url.Parse(apiURL); err != nil || apiURL == "" {
		return nil, fmt.Errorf("invalid API URL %q", apiURL)
	}
	if retryAttempts < 1 {
		retryAttempts = 1
	}

	return &WeatherbitClient{
		apiKey:         apiKey,
		apiURL:         strings.TrimRight(apiURL, "/"),
		iconBaseURL:    DefaultIconBaseURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		now:            time.Now,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker routes every provider call through cb. Only connectivity
// failures and 5xx responses count against it.
func (c *WeatherbitClient) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

func (c *WeatherbitClient) SetIconBaseURL(base string) {
	if base != "" {
		c.iconBaseURL = strings.TrimRight(base, "/")
	}
}

// IconURL builds the image URL for a provider icon code. It performs no I/O.
func (c *WeatherbitClient) IconURL(code string) string {
	return fmt.Sprintf("%s/%s.png", c.iconBaseURL, code)
}

type weatherCondition struct {
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type currentResponse struct {
	Data []struct {
		Temp     float64          `json:"temp"`
		RH       float64          `json:"rh"`
		WindSpd  float64          `json:"wind_spd"`
		CityName string           `json:"city_name"`
		Weather  weatherCondition `json:"weather"`
	} `json:"data"`
}

type forecastResponse struct {
	CityName string `json:"city_name"`
	Data     []struct {
		Datetime string           `json:"datetime"`
		MaxTemp  float64          `json:"max_temp"`
		MinTemp  float64          `json:"min_temp"`
		RH       float64          `json:"rh"`
		WindSpd  float64          `json:"wind_spd"`
		Weather  weatherCondition `json:"weather"`
	} `json:"data"`
}

// providerError is the error body Weatherbit and fronting proxies return.
type providerError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *WeatherbitClient) Current(ctx context.Context, zipCode string) (models.CurrentWeather, error) {
	if !validation.IsZipCode(zipCode) {
		return models.CurrentWeather{}, InvalidZipCode(zipCode)
	}

	var resp currentResponse
	if err := c.fetch(ctx, "current", "/current", zipParams(zipCode), &resp); err != nil {
		return models.CurrentWeather{}, err
	}
	if len(resp.Data) == 0 {
		return models.CurrentWeather{}, newError(ErrNotFound, MsgNoCurrentData, http.StatusOK, nil)
	}

	d := resp.Data[0]
	return models.CurrentWeather{
		Temp:        roundHalfUp(d.Temp),
		Description: d.Weather.Description,
		Humidity:    roundHalfUp(d.RH),
		WindSpeed:   kmh(d.WindSpd),
		Icon:        d.Weather.Icon,
		CityName:    d.CityName,
		Timestamp:   c.now(),
	}, nil
}

// Forecast returns up to days daily records (capped at ForecastDays).
func (c *WeatherbitClient) Forecast(ctx context.Context, zipCode string, days int) (models.Forecast, error) {
	if !validation.IsZipCode(zipCode) {
		return models.Forecast{}, InvalidZipCode(zipCode)
	}
	if days <= 0 || days > ForecastDays {
		days = ForecastDays
	}

	params := zipParams(zipCode)
	params.Set("days", strconv.Itoa(days))

	var resp forecastResponse
	if err := c.fetch(ctx, "forecast", "/forecast/daily", params, &resp); err != nil {
		return models.Forecast{}, err
	}
	if len(resp.Data) == 0 {
		return models.Forecast{}, newError(ErrNotFound, MsgNoForecastData, http.StatusOK, nil)
	}

	records := resp.Data
	if len(records) > days {
		records = records[:days]
	}
	out := models.Forecast{
		Location:  zipCode,
		Days:      make([]models.ForecastDay, 0, len(records)),
		Timestamp: c.now(),
	}
	for _, d := range records {
		out.Days = append(out.Days, models.ForecastDay{
			Date:        d.Datetime,
			TempMax:     roundHalfUp(d.MaxTemp),
			TempMin:     roundHalfUp(d.MinTemp),
			Description: d.Weather.Description,
			Icon:        d.Weather.Icon,
			Humidity:    roundHalfUp(d.RH),
			WindSpeed:   kmh(d.WindSpd),
		})
	}
	return out, nil
}

func zipParams(zipCode string) url.Values {
	params := url.Values{}
	params.Set("postal_code", zipCode)
	params.Set("country", "US")
	return params
}

func (c *WeatherbitClient) fetch(ctx context.Context, endpoint, path string, params url.Values, dest any) error {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.WithLabelValues(endpoint).Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return newError(ErrConnectivity, MsgConnectivity, 0, ctx.Err())
			case <-time.After(delay):
			}
		}

		err := c.callAPI(ctx, endpoint, path, params, dest)
		if err == nil {
			return nil
		}

		lastErr = err
		if !c.isRetryable(ctx, err) {
			return err
		}
	}

	return lastErr
}

var errServerStatus = errors.New("server error status")

func (c *WeatherbitClient) callAPI(ctx context.Context, endpoint, path string, params url.Values, dest any) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return newError(ErrUpstream, MsgUnavailable, 0, fmt.Errorf("build request: %w", err))
	}

	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return newError(ErrUpstream, MsgUnavailable, 0, err)
		}
		return newError(ErrConnectivity, MsgConnectivity, 0, err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return newError(ErrConnectivity, MsgConnectivity, resp.StatusCode, fmt.Errorf("read response body: %w", err))
	}

	if err := handleErrorResponse(resp.StatusCode, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return newError(ErrUpstream, MsgUnavailable, resp.StatusCode, fmt.Errorf("parse response: %w", err))
	}
	return nil
}

// do executes req, through the circuit breaker when one is set. 4xx
// responses are reported to the breaker as successes.
func (c *WeatherbitClient) do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.client.Do(req)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})
	if errors.Is(err, errServerStatus) {
		return result.(*http.Response), nil
	}
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

func (c *WeatherbitClient) buildRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.apiURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return newError(ErrAuth, MsgAuth, statusCode, nil)
	case http.StatusNotFound:
		return newError(ErrNotFound, MsgZipNotFound, statusCode, nil)
	case http.StatusTooManyRequests:
		return newError(ErrRateLimited, MsgRateLimited, statusCode, nil)
	}

	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := MsgUnavailable
	var pe providerError
	if json.Unmarshal(body, &pe) == nil {
		switch {
		case pe.Message != "":
			msg = pe.Message
		case pe.Error != "":
			msg = pe.Error
		}
	}
	return newError(ErrUpstream, msg, statusCode, fmt.Errorf("HTTP %d", statusCode))
}

// isRetryable reports whether err is transient: no response, or a 5xx.
// Nothing is retried once the caller's context is done.
func (c *WeatherbitClient) isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if errors.Is(e.Kind, ErrConnectivity) {
		return true
	}
	return errors.Is(e.Kind, ErrUpstream) && e.Status >= 500
}

func (c *WeatherbitClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// roundHalfUp rounds halves toward +Inf, so -2.5 becomes -2.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func kmh(metersPerSecond float64) int {
	return roundHalfUp(metersPerSecond * 3.6)
}

// ValidateAPIKey calls the current-weather endpoint once without retries.
func (c *WeatherbitClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "/current", zipParams("10001"))
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrAuth)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
