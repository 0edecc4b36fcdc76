package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agrinova/apiserver/config"
)

const (
	weatherTimeout  = 10 * time.Second
	maxWeatherBytes = 1 << 20
)

// WeatherHandler proxies city weather lookups to OpenWeatherMap and
// reshapes the response. It holds no state beyond its configuration.
type WeatherHandler struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewWeatherHandler constructs a handler from config.
func NewWeatherHandler(cfg config.WeatherConfig) *WeatherHandler {
	return &WeatherHandler{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: weatherTimeout},
	}
}

type WeatherResponse struct {
	City        string  `json:"city"`
	Temperature float64 `json:"temperature"`
	Description string  `json:"description"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"wind_speed"`
}

// upstreamWeather mirrors the fields of the OpenWeatherMap response
// the proxy reshapes.
type upstreamWeather struct {
	Name string `json:"name"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Message string `json:"message"`
}

// Get forwards the lookup upstream. Upstream errors are propagated
// with their original status and message.
func (h *WeatherHandler) Get(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	if city == "" {
		writeError(w, http.StatusBadRequest, "City parameter is required")
		return
	}

	query := url.Values{}
	query.Set("q", city)
	query.Set("units", "metric")
	query.Set("appid", h.apiKey)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, h.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build weather request")
		return
	}

	resp, err := h.client.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Error fetching weather data")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWeatherBytes))
	if err != nil {
		writeError(w, http.StatusBadGateway, "Error fetching weather data")
		return
	}

	// Status is propagated verbatim even when the error body is not
	// JSON; the upstream message is decoded best-effort.
	if resp.StatusCode != http.StatusOK {
		message := "Error fetching weather data"
		var upstream upstreamWeather
		if json.Unmarshal(body, &upstream) == nil && upstream.Message != "" {
			message = upstream.Message
		}
		writeError(w, resp.StatusCode, message)
		return
	}

	var upstream upstreamWeather
	if err := json.Unmarshal(body, &upstream); err != nil {
		writeError(w, http.StatusBadGateway, "Error fetching weather data")
		return
	}

	info := WeatherResponse{
		City:        upstream.Name,
		Temperature: upstream.Main.Temp,
		Humidity:    upstream.Main.Humidity,
		WindSpeed:   upstream.Wind.Speed,
	}
	if len(upstream.Weather) > 0 {
		info.Description = upstream.Weather[0].Description
	}
	writeJSON(w, http.StatusOK, info)
}
