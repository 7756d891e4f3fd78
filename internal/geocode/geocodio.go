package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ClientOptions configures a Geocodio client.
type ClientOptions struct {
	BaseURL           string
	APIKey            string
	BatchSize         int
	Concurrency       int
	RequestsPerSecond float64
	MaxRetries        int
	Timeout           time.Duration
	RetryDelay        time.Duration
}

// Client geocodes addresses with the Geocodio batch API.
type Client struct {
	baseURL     string
	apiKey      string
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
	http        httpDoer
}

// NewClient creates a Geocodio client. Zero options take the defaults of
// the default config.
func NewClient(opts ClientOptions) *Client {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		limiter:     rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		http: newRetryClient(
			&http.Client{Timeout: opts.Timeout},
			opts.MaxRetries,
			opts.RetryDelay,
		),
	}
}

// IsConfigured returns whether an API key is available.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// Geocode sends addrs in batches and returns one result per located
// address, in input order, plus the case_ids whose match was malformed.
// Batches may run concurrently; a failed batch fails the whole call with
// ErrExternalService.
func (c *Client) Geocode(ctx context.Context, addrs []Address) ([]Result, []string, error) {
	if c.apiKey == "" {
		return nil, nil, fmt.Errorf("%w: Geocodio API key not configured", ErrExternalService)
	}

	var batches [][]Address
	for start := 0; start < len(addrs); start += c.batchSize {
		end := min(start+c.batchSize, len(addrs))
		batches = append(batches, addrs[start:end])
	}

	out := make([][]Result, len(batches))
	skipped := make([][]string, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			if err := c.limiter.Wait(gctx); err != nil {
				return err
			}
			log.Printf("Geocoding batch %d/%d (%d addresses)", i+1, len(batches), len(batch))
			res, bad, err := c.geocodeBatch(gctx, batch)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i+1, err)
			}
			out[i], skipped[i] = res, bad
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var results []Result
	var malformed []string
	for i := range out {
		results = append(results, out[i]...)
		malformed = append(malformed, skipped[i]...)
	}
	return results, malformed, nil
}

type batchResponse struct {
	Results map[string]batchItem `json:"results"`
}

type batchItem struct {
	Query    string `json:"query"`
	Response struct {
		Results []match `json:"results"`
		Error   string  `json:"error"`
	} `json:"response"`
}

type match struct {
	AddressComponents struct {
		Zip    string `json:"zip"`
		County string `json:"county"`
	} `json:"address_components"`
	FormattedAddress string `json:"formatted_address"`
	Location         *struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	} `json:"location"`
	Accuracy     *float64 `json:"accuracy"`
	AccuracyType string   `json:"accuracy_type"`
}

func (c *Client) geocodeBatch(ctx context.Context, batch []Address) ([]Result, []string, error) {
	queries := make(map[string]string, len(batch))
	for _, a := range batch {
		queries[a.CaseID] = a.Query()
	}
	data, err := json.Marshal(queries)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling request: %w", err)
	}

	u := c.baseURL + "/geocode?" + url.Values{"api_key": {c.apiKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, nil, fmt.Errorf("%w: Geocodio returned %d: %s",
			ErrExternalService, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var br batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, nil, fmt.Errorf("%w: decoding response: %w", ErrExternalService, err)
	}

	var results []Result
	var malformed []string
	for _, a := range batch {
		item, ok := br.Results[a.CaseID]
		if !ok || item.Response.Error != "" || len(item.Response.Results) == 0 {
			continue
		}
		r, err := toResult(a.CaseID, item.Response.Results[0])
		if err != nil {
			log.Printf("Skipping case %s: %v", a.CaseID, err)
			malformed = append(malformed, a.CaseID)
			continue
		}
		results = append(results, r)
	}
	return results, malformed, nil
}

// toResult validates one match. A match without coordinates or with an
// accuracy outside [0, 1] is malformed.
func toResult(caseID string, m match) (Result, error) {
	if m.Location == nil || m.Location.Lat == nil || m.Location.Lng == nil {
		return Result{}, fmt.Errorf("match without coordinates")
	}
	if m.Accuracy == nil || !(*m.Accuracy >= 0 && *m.Accuracy <= 1) {
		return Result{}, fmt.Errorf("malformed accuracy score")
	}
	return Result{
		CaseID:        caseID,
		Latitude:      *m.Location.Lat,
		Longitude:     *m.Location.Lng,
		AccuracyScore: *m.Accuracy,
		AccuracyType:  m.AccuracyType,
		Zip:           m.AddressComponents.Zip,
		County:        m.AddressComponents.County,
	}, nil
}
