package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ViktorIovenko/KopifilesNAS/internal/config"
	"github.com/ViktorIovenko/KopifilesNAS/internal/safety"
	"golang.org/x/time/rate"
)

const maxNominatimBody = 1 << 20

// nominatimResponse is the subset of a /reverse answer we read.
type nominatimResponse struct {
	Error   string `json:"error"`
	Address struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
	} `json:"address"`
}

// Nominatim is the online reverse geocoding tier. Requests are spaced by the
// configured minimum delay; transport failures are retried a bounded number
// of times and then reported as absence.
type Nominatim struct {
	client    *http.Client
	endpoint  *url.URL
	userAgent string
	language  string
	limiter   *rate.Limiter
	retries   int
	errorWait time.Duration
	logger    *slog.Logger
}

// NewNominatim builds the online tier from config.
func NewNominatim(cfg config.OnlineConfig, logger *slog.Logger) (*Nominatim, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := safety.ValidateHTTPURL(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid geocoder base URL: %w", err)
	}
	endpoint := base.JoinPath("reverse")

	limit := rate.Inf
	if cfg.MinDelay > 0 {
		limit = rate.Every(cfg.MinDelay)
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &Nominatim{
		client:    safety.NewHTTPClient(cfg.Timeout),
		endpoint:  endpoint,
		userAgent: cfg.UserAgent,
		language:  cfg.Language,
		limiter:   rate.NewLimiter(limit, 1),
		retries:   retries,
		errorWait: cfg.ErrorWait,
		logger:    logger,
	}, nil
}

// Lookup asks the service for the city, town or village at c.
func (n *Nominatim) Lookup(ctx context.Context, c Coordinate) (string, bool) {
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 && n.errorWait > 0 {
			select {
			case <-ctx.Done():
				return "", false
			case <-time.After(n.errorWait):
			}
		}

		city, err := n.reverse(ctx, c)
		if err == nil {
			return city, city != ""
		}
		n.logger.Debug("online geocode failed", "coord", c.Key(), "attempt", attempt+1, "error", err)
	}
	return "", false
}

func (n *Nominatim) reverse(ctx context.Context, c Coordinate) (string, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(c.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.Lon, 'f', -1, 64))
	q.Set("zoom", "10")
	q.Set("addressdetails", "1")
	if n.language != "" {
		q.Set("accept-language", n.language)
	}
	u := *n.endpoint
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := safety.ReadAllWithLimit(resp.Body, maxNominatimBody)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed nominatimResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != "" {
		// "Unable to geocode" is an answer, not a transport failure.
		return "", nil
	}
	for _, name := range []string{parsed.Address.City, parsed.Address.Town, parsed.Address.Village} {
		if name = strings.TrimSpace(name); name != "" {
			return name, nil
		}
	}
	return "", nil
}
