// Package scraper is the HTTP client for the external scraping service that
// drives a browser to extract exchange directories and raw financial
// statements. It implements the fetcher contracts consumed by the collector
// and quote workers.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/graham/internal/domain"
)

// Client talks to the scraper service.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a scraper-service client. baseURL is the service root,
// e.g. "http://localhost:9000".
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 90 * time.Second},
		log:     log.With().Str("client", "scraper").Logger(),
	}
}

type directoryResponse struct {
	Entries []struct {
		CompanySymbol    string `json:"company_symbol"`
		InstrumentSymbol string `json:"instrument_symbol"`
		CompanyName      string `json:"company_name"`
		InstrumentName   string `json:"instrument_name"`
	} `json:"entries"`
}

type reportResponse struct {
	Kind       string             `json:"kind"`
	Period     string             `json:"period"`
	ReportDate *string            `json:"report_date"`
	Fields     map[string]float64 `json:"fields"`
}

type batchResponse struct {
	Reports           []reportResponse `json:"reports"`
	Price             float64          `json:"price"`
	SharesOutstanding float64          `json:"shares_outstanding"`
}

type quoteResponse struct {
	Price             float64 `json:"price"`
	SharesOutstanding float64 `json:"shares_outstanding"`
}

// FetchDirectory returns the exchange's current full instrument directory.
func (c *Client) FetchDirectory(ctx context.Context, exchange string) ([]domain.DirectoryEntry, error) {
	var response directoryResponse
	query := url.Values{"exchange": {exchange}}
	if err := c.get(ctx, "/directory", query, &response); err != nil {
		return nil, fmt.Errorf("directory fetch failed: %w", err)
	}

	entries := make([]domain.DirectoryEntry, 0, len(response.Entries))
	for _, e := range response.Entries {
		entries = append(entries, domain.DirectoryEntry{
			CompanySymbol:    e.CompanySymbol,
			InstrumentSymbol: e.InstrumentSymbol,
			CompanyName:      e.CompanyName,
			InstrumentName:   e.InstrumentName,
		})
	}
	c.log.Debug().Str("exchange", exchange).Int("entries", len(entries)).Msg("Directory fetched")
	return entries, nil
}

// FetchReports returns the scraped statement batch for one instrument.
func (c *Client) FetchReports(ctx context.Context, instrument domain.Instrument) (*domain.ReportBatch, error) {
	var response batchResponse
	query := url.Values{
		"company":    {instrument.CompanySymbol},
		"instrument": {instrument.InstrumentSymbol},
	}
	if err := c.get(ctx, "/reports", query, &response); err != nil {
		return nil, fmt.Errorf("report fetch failed: %w", err)
	}

	batch := &domain.ReportBatch{
		Price:             response.Price,
		SharesOutstanding: response.SharesOutstanding,
		Reports:           make([]domain.RawReport, 0, len(response.Reports)),
	}
	for _, r := range response.Reports {
		report := domain.RawReport{
			Kind:   domain.ReportKind(r.Kind),
			Period: domain.PeriodKind(r.Period),
			Fields: r.Fields,
		}
		if r.ReportDate != nil {
			parsed, err := time.Parse("2006-01-02", *r.ReportDate)
			if err != nil {
				c.log.Warn().Str("date", *r.ReportDate).
					Str("instrument", instrument.Key().String()).
					Msg("Unparseable report date, marking report invalid")
				report.Invalid = true
			} else {
				report.ReportDate = &parsed
			}
		} else {
			report.Invalid = true
		}
		batch.Reports = append(batch.Reports, report)
	}
	return batch, nil
}

// FetchQuote returns the current price and share count for one instrument.
func (c *Client) FetchQuote(ctx context.Context, instrument domain.Instrument) (*domain.Quote, error) {
	var response quoteResponse
	query := url.Values{
		"company":    {instrument.CompanySymbol},
		"instrument": {instrument.InstrumentSymbol},
	}
	if err := c.get(ctx, "/quote", query, &response); err != nil {
		return nil, fmt.Errorf("quote fetch failed: %w", err)
	}

	return &domain.Quote{
		InstrumentID:      instrument.ID,
		Price:             response.Price,
		SharesOutstanding: response.SharesOutstanding,
		UpdatedAt:         time.Now().UTC(),
	}, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scraper returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
