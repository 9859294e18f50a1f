package offers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fare-alerts/internal/domain"
	"fare-alerts/internal/logging"
)

const (
	serpSearchPath = "/search"
	serpEngine     = "google_flights"
	serpOneWay     = "2"

	defaultMaxResponseBytes = 4 << 20
)

// SerpAPIOptions parameterise the Google Flights client.
type SerpAPIOptions struct {
	BaseURL  string
	APIKey   string
	Currency string
	Language string
	Timeout  time.Duration
}

// SerpAPI queries Google Flights through serpapi.com.
type SerpAPI struct {
	opts    SerpAPIOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	maxBody int64
}

// NewSerpAPI constructs the client.
func NewSerpAPI(opts SerpAPIOptions, logger zerolog.Logger) *SerpAPI {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://serpapi.com"
	}
	if opts.Currency == "" {
		opts.Currency = "BRL"
	}
	if opts.Language == "" {
		opts.Language = "pt"
	}

	return &SerpAPI{
		opts:    opts,
		logger:  logging.Component(logger, "serpapi"),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		maxBody: defaultMaxResponseBytes,
	}
}

// Query fetches one-way offers for q.
func (s *SerpAPI) Query(ctx context.Context, q Query) ([]domain.Offer, error) {
	if s.opts.APIKey == "" {
		return nil, fmt.Errorf("%w: api key not configured", ErrUnauthorized)
	}

	params := url.Values{}
	params.Set("engine", serpEngine)
	params.Set("type", serpOneWay)
	params.Set("departure_id", q.Origin)
	params.Set("arrival_id", q.Destination)
	params.Set("outbound_date", q.Date.Format("2006-01-02"))
	params.Set("currency", s.opts.Currency)
	params.Set("hl", s.opts.Language)
	params.Set("api_key", s.opts.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+serpSearchPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return nil, classifyTransport(err)
	}
	if int64(len(payload)) > s.maxBody {
		return nil, fmt.Errorf("%w: response larger than %d bytes", ErrUnavailable, s.maxBody)
	}

	var body searchResponse
	decodeErr := json.Unmarshal(payload, &body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (%d): %s", ErrUnauthorized, resp.StatusCode, errorText(body, payload))
	case resp.StatusCode != http.StatusOK:
		if decodeErr == nil && isNoResults(body.Error) {
			return []domain.Offer{}, nil
		}
		return nil, fmt.Errorf("%w (%d): %s", ErrUnavailable, resp.StatusCode, errorText(body, payload))
	case decodeErr != nil:
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, decodeErr)
	case body.Error != "":
		if isNoResults(body.Error) {
			return []domain.Offer{}, nil
		}
		if isKeyProblem(body.Error) {
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, body.Error)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, body.Error)
	}

	groups := make([]itinerary, 0, len(body.BestFlights)+len(body.OtherFlights))
	groups = append(groups, body.BestFlights...)
	groups = append(groups, body.OtherFlights...)

	out := make([]domain.Offer, 0, len(groups))
	for _, it := range groups {
		if !it.Price.IsPositive() || len(it.Flights) == 0 {
			continue
		}
		first := it.Flights[0]
		out = append(out, domain.Offer{
			Origin:      q.Origin,
			Destination: q.Destination,
			Date:        q.Date,
			Price:       it.Price,
			Currency:    s.opts.Currency,
			Carrier:     first.Airline,
			Stops:       len(it.Flights) - 1,
			DepartsAt:   first.DepartureAirport.Time,
			Duration:    time.Duration(it.TotalDuration) * time.Minute,
		})
	}

	s.logger.Debug().
		Str("query", q.String()).
		Int("offers", len(out)).
		Msg("serpapi query complete")
	return out, nil
}

type searchResponse struct {
	BestFlights  []itinerary `json:"best_flights"`
	OtherFlights []itinerary `json:"other_flights"`
	Error        string      `json:"error"`
}

type itinerary struct {
	Flights       []leg           `json:"flights"`
	TotalDuration int             `json:"total_duration"`
	Price         decimal.Decimal `json:"price"`
	Type          string          `json:"type"`
}

type leg struct {
	DepartureAirport airportTime `json:"departure_airport"`
	ArrivalAirport   airportTime `json:"arrival_airport"`
	Duration         int         `json:"duration"`
	Airline          string      `json:"airline"`
	FlightNumber     string      `json:"flight_number"`
}

type airportTime struct {
	Name string `json:"name"`
	ID   string `json:"id"`
	Time string `json:"time"`
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func isNoResults(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "returned any results") || strings.Contains(msg, "no results")
}

func isKeyProblem(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "api key") || strings.Contains(msg, "api_key")
}

func errorText(body searchResponse, payload []byte) string {
	if body.Error != "" {
		return body.Error
	}
	text := strings.TrimSpace(string(payload))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

var _ Source = (*SerpAPI)(nil)
