package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/appshare1603/VanLive/internal/domain"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
	forecastHours    = 6
	rainLikelyPct    = 50
	openMeteoTime    = "2006-01-02T15:04"
)

// ErrInvalidResponse indicates the provider returned a payload we cannot use.
var ErrInvalidResponse = errors.New("weather: invalid response")

// Provider fetches the current weather for the van's location.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) (domain.Weather, error)
}

// OpenMeteoProvider reads current conditions and the short-range
// precipitation forecast from the Open-Meteo forecast API.
type OpenMeteoProvider struct {
	baseURL   string
	latitude  float64
	longitude float64
	client    *http.Client
}

func NewOpenMeteoProvider(baseURL string, latitude, longitude float64, client *http.Client) (*OpenMeteoProvider, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("weather base url required")
	}
	if latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 {
		return nil, fmt.Errorf("weather location out of range: %v,%v", latitude, longitude)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &OpenMeteoProvider{
		baseURL:   trimmed,
		latitude:  latitude,
		longitude: longitude,
		client:    client,
	}, nil
}

func (p *OpenMeteoProvider) Name() string { return "open-meteo" }

type forecastResponse struct {
	Current struct {
		Time        string   `json:"time"`
		Temperature *float64 `json:"temperature_2m"`
		WeatherCode *int     `json:"weather_code"`
	} `json:"current"`
	Hourly struct {
		Time                     []string `json:"time"`
		PrecipitationProbability []*int   `json:"precipitation_probability"`
	} `json:"hourly"`
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context) (domain.Weather, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(p.latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(p.longitude, 'f', 4, 64))
	q.Set("current", "temperature_2m,weather_code")
	q.Set("hourly", "precipitation_probability")
	q.Set("forecast_hours", strconv.Itoa(forecastHours+1))
	q.Set("timezone", "UTC")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return domain.Weather{}, fmt.Errorf("build weather request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Weather{}, fmt.Errorf("send weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		summary := strings.TrimSpace(string(buf))
		if summary == "" {
			summary = resp.Status
		}
		return domain.Weather{}, fmt.Errorf("weather request failed: %s", summary)
	}

	var body forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Weather{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return p.toWeather(body)
}

func (p *OpenMeteoProvider) toWeather(body forecastResponse) (domain.Weather, error) {
	if body.Current.WeatherCode == nil {
		return domain.Weather{}, fmt.Errorf("%w: missing weather_code", ErrInvalidResponse)
	}
	observed, err := time.Parse(openMeteoTime, body.Current.Time)
	if err != nil {
		return domain.Weather{}, fmt.Errorf("%w: current time %q", ErrInvalidResponse, body.Current.Time)
	}
	condition := ConditionFromWMO(*body.Current.WeatherCode)

	return domain.Weather{
		Condition:     condition,
		ExternalTempC: body.Current.Temperature,
		ForecastText:  forecastText(condition, observed, body.Hourly.Time, body.Hourly.PrecipitationProbability),
		Source:        p.Name(),
		ObservedAt:    observed.UTC(),
	}, nil
}

// ConditionFromWMO collapses a WMO weather interpretation code into the
// three conditions a van dashboard shows. Any precipitation counts as rain.
func ConditionFromWMO(code int) domain.WeatherCondition {
	switch {
	case code <= 1:
		return domain.WeatherSunny
	case code <= 48:
		return domain.WeatherCloudy
	default:
		return domain.WeatherRain
	}
}

func forecastText(current domain.WeatherCondition, observed time.Time, times []string, probs []*int) string {
	if current == domain.WeatherRain {
		return "Rain now"
	}
	for i, raw := range times {
		if i >= len(probs) || probs[i] == nil {
			continue
		}
		at, err := time.Parse(openMeteoTime, raw)
		if err != nil || !at.After(observed) {
			continue
		}
		ahead := int(at.Sub(observed).Round(time.Hour) / time.Hour)
		if ahead > forecastHours {
			break
		}
		if *probs[i] >= rainLikelyPct {
			if ahead < 1 {
				ahead = 1
			}
			return fmt.Sprintf("Rain likely in %dh", ahead)
		}
	}
	return fmt.Sprintf("Dry for the next %dh", forecastHours)
}
