package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/graham/internal/domain"
)

func testServer(t *testing.T, path string, payload string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	t.Cleanup(server.Close)
	return NewClient(server.URL, zerolog.Nop())
}

func TestFetchDirectory(t *testing.T) {
	client := testServer(t, "/directory", `{
		"entries": [
			{"company_symbol": "005930", "instrument_symbol": "005930", "company_name": "Samsung Electronics"},
			{"company_symbol": "000660", "instrument_symbol": "000660", "company_name": "SK Hynix"}
		]
	}`)

	entries, err := client.FetchDirectory(context.Background(), "KRX")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Samsung Electronics", entries[0].CompanyName)
}

func TestFetchReports(t *testing.T) {
	client := testServer(t, "/reports", `{
		"reports": [
			{"kind": "balance_sheet", "period": "annual", "report_date": "2021-12-31",
			 "fields": {"TotalShareholdersEquity": 500000000}},
			{"kind": "cash_flow", "period": "quarterly", "report_date": null, "fields": {}}
		],
		"price": 80,
		"shares_outstanding": 1000000
	}`)

	batch, err := client.FetchReports(context.Background(), domain.Instrument{
		CompanySymbol: "005930", InstrumentSymbol: "005930",
	})
	require.NoError(t, err)
	require.Len(t, batch.Reports, 2)

	assert.Equal(t, domain.KindBalanceSheet, batch.Reports[0].Kind)
	assert.Equal(t, 2021, batch.Reports[0].ReportDate.Year())
	assert.False(t, batch.Reports[0].Invalid)

	// A missing date marks the report invalid rather than dropping it; the
	// delta engine decides what to skip.
	assert.True(t, batch.Reports[1].Invalid)
	assert.Nil(t, batch.Reports[1].ReportDate)

	assert.Equal(t, 80.0, batch.Price)
	assert.Equal(t, 1_000_000.0, batch.SharesOutstanding)
}

func TestFetchQuote(t *testing.T) {
	client := testServer(t, "/quote", `{"price": 72.5, "shares_outstanding": 500}`)

	quote, err := client.FetchQuote(context.Background(), domain.Instrument{ID: 9})
	require.NoError(t, err)
	assert.Equal(t, int64(9), quote.InstrumentID)
	assert.Equal(t, 72.5, quote.Price)
}

func TestServerErrorSurfacesAsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	client := NewClient(server.URL, zerolog.Nop())

	_, err := client.FetchDirectory(context.Background(), "KRX")
	assert.Error(t, err)
}
