// Package weather implements the get_weather_forecast capability on
// top of the Open-Meteo geocoding and forecast APIs. Neither API needs
// a key.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/majordomo/internal/capability"
	"github.com/nugget/majordomo/internal/config"
	"github.com/nugget/majordomo/internal/httpkit"
)

// ErrCityNotFound is returned when geocoding finds no match.
var ErrCityNotFound = errors.New("city not found")

// Report is today's temperature summary for one place.
type Report struct {
	LocationFound string  `json:"location_found"`
	Current       float64 `json:"current"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	Unit          string  `json:"unit"`
}

// Forecaster queries Open-Meteo.
type Forecaster struct {
	cfg        config.WeatherConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Forecaster.
func New(cfg config.WeatherConfig, logger *slog.Logger) *Forecaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forecaster{
		cfg: cfg,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	CurrentWeather struct {
		Temperature float64 `json:"temperature"`
	} `json:"current_weather"`
	Daily struct {
		Max []float64 `json:"temperature_2m_max"`
		Min []float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

// Forecast returns the report for location, or for the configured
// home coordinates when location is blank.
func (f *Forecaster) Forecast(ctx context.Context, location string) (Report, error) {
	lat, lon, name := f.cfg.HomeLatitude, f.cfg.HomeLongitude, f.cfg.HomeName

	if location = strings.TrimSpace(location); location != "" {
		var err error
		lat, lon, name, err = f.geocode(ctx, location)
		if err != nil {
			return Report{}, err
		}
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("current_weather", "true")
	q.Set("daily", "temperature_2m_max,temperature_2m_min")
	q.Set("timezone", "auto")

	var fr forecastResponse
	if err := httpkit.GetJSON(ctx, f.httpClient, f.cfg.ForecastURL+"?"+q.Encode(), &fr); err != nil {
		return Report{}, fmt.Errorf("forecast: %w", err)
	}
	if len(fr.Daily.Max) == 0 || len(fr.Daily.Min) == 0 {
		return Report{}, errors.New("forecast: response has no daily temperatures")
	}

	r := Report{
		LocationFound: name,
		Current:       fr.CurrentWeather.Temperature,
		Min:           fr.Daily.Min[0],
		Max:           fr.Daily.Max[0],
		Unit:          "°C",
	}
	f.logger.Debug("forecast fetched", "location", name, "lat", lat, "lon", lon)
	return r, nil
}

func (f *Forecaster) geocode(ctx context.Context, city string) (lat, lon float64, name string, err error) {
	q := url.Values{}
	q.Set("name", city)
	q.Set("count", "1")
	q.Set("language", f.cfg.Language)
	q.Set("format", "json")

	var gr geocodeResponse
	if err := httpkit.GetJSON(ctx, f.httpClient, f.cfg.GeocodingURL+"?"+q.Encode(), &gr); err != nil {
		return 0, 0, "", fmt.Errorf("geocoding: %w", err)
	}
	if len(gr.Results) == 0 {
		return 0, 0, "", fmt.Errorf("%q: %w", city, ErrCityNotFound)
	}
	g := gr.Results[0]
	return g.Latitude, g.Longitude, g.Name, nil
}

// Invoke implements [capability.Invoker] for get_weather_forecast. It
// returns the report as JSON. An unknown city is reported as text, not
// as an error.
func (f *Forecaster) Invoke(ctx context.Context, args capability.Args) (string, error) {
	location := args.String("location")
	r, err := f.Forecast(ctx, location)
	if errors.Is(err, ErrCityNotFound) {
		return fmt.Sprintf("Sorry, I could not find the city of %s.", strings.TrimSpace(location)), nil
	}
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
