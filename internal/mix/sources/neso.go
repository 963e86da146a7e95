package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/generation-mix-ingest/internal/mix"
)

const (
	// DefaultNESOBaseURL is the CKAN action API of the NESO data portal.
	DefaultNESOBaseURL = "https://api.neso.energy/api/3/action"

	// DefaultNESOResourceID is the Historic GB Generation Mix resource.
	DefaultNESOResourceID = "f93d1835-75bc-43e5-84ad-12472b180a98"

	datetimeColumn  = "DATETIME"
	intensityColumn = "CARBON_INTENSITY"
)

var errMalformed = errors.New("malformed response")

// NESOConfig configures the NESO source.
type NESOConfig struct {
	BaseURL    string
	ResourceID string
	MaxRetries int
}

// NESOSource implements mix.Source over the NESO datastore_search_sql endpoint.
type NESOSource struct {
	name       string
	baseURL    string
	resourceID string
	httpCfg    HTTPClientConfig
	circuit    *gobreaker.CircuitBreaker
}

// NewNESOSource creates a NESO source using the shared HTTP client.
func NewNESOSource(client *http.Client, cfg NESOConfig) *NESOSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultNESOBaseURL
	}
	if cfg.ResourceID == "" {
		cfg.ResourceID = DefaultNESOResourceID
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &NESOSource{
		name:       "neso",
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		resourceID: cfg.ResourceID,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      cfg.MaxRetries,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		circuit: newBreaker("neso"),
	}
}

func (s *NESOSource) Name() string {
	return s.name
}

// Fetch returns every row with from <= DATETIME <= to, oldest first.
func (s *NESOSource) Fetch(ctx context.Context, from, to time.Time) ([]mix.RawRecord, error) {
	query := s.buildSQL(from, to)

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("sql", query)

		u := fmt.Sprintf("%s/datastore_search_sql?%s", s.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, s.httpCfg, s.circuit, buildRequest)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Success bool `json:"success"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
		Result *struct {
			Records []map[string]any `json:"records"`
		} `json:"result"`
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if !payload.Success {
		msg := "success=false"
		if payload.Error != nil && payload.Error.Message != "" {
			msg = payload.Error.Message
		}
		return nil, fmt.Errorf("%w: %s", errMalformed, msg)
	}
	if payload.Result == nil {
		return nil, fmt.Errorf("%w: missing result", errMalformed)
	}

	records := make([]mix.RawRecord, 0, len(payload.Result.Records))
	for _, row := range payload.Result.Records {
		records = append(records, toRawRecord(row))
	}
	return records, nil
}

// buildSQL quotes identifiers because the dataset uses upper-case column names.
func (s *NESOSource) buildSQL(from, to time.Time) string {
	cols := make([]string, 0, len(mix.Fuels)+2)
	cols = append(cols, quoteIdent(datetimeColumn))
	for _, f := range mix.Fuels {
		cols = append(cols, quoteIdent(string(f)))
	}
	cols = append(cols, quoteIdent(intensityColumn))

	return fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s >= '%s' AND %s <= '%s' ORDER BY %s`,
		strings.Join(cols, ", "),
		quoteIdent(s.resourceID),
		quoteIdent(datetimeColumn), from.UTC().Format(mix.TimeLayout),
		quoteIdent(datetimeColumn), to.UTC().Format(mix.TimeLayout),
		quoteIdent(datetimeColumn),
	)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func toRawRecord(row map[string]any) mix.RawRecord {
	raw := mix.RawRecord{
		Timestamp:       stringify(row[datetimeColumn]),
		CarbonIntensity: stringify(row[intensityColumn]),
		Fuels:           make(map[string]string, len(mix.Fuels)),
	}
	for _, f := range mix.Fuels {
		if v, ok := row[string(f)]; ok {
			raw.Fuels[string(f)] = stringify(v)
		}
	}
	return raw
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
