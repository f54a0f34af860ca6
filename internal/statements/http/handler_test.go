package statementshttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/money"
	"github.com/odyssey-erp/ledger/internal/statements"
	_ "github.com/odyssey-erp/ledger/testing"
)

var (
	usd     = money.MustCode("USD")
	closing = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
)

type stubSource struct {
	accounts []accounting.Account
	entries  []accounting.JournalEntry
}

func (s *stubSource) Accounts(context.Context) ([]accounting.Account, error) {
	return s.accounts, nil
}

func (s *stubSource) Entries(_ context.Context, filter statements.EntryFilter) ([]accounting.JournalEntry, error) {
	var out []accounting.JournalEntry
	for _, e := range s.entries {
		if (filter.From.IsZero() || !e.PostingDate.Before(filter.From)) && !e.PostingDate.After(filter.To) {
			out = append(out, e)
		}
	}
	return out, nil
}

type stubRenderer struct{}

func (stubRenderer) RenderHTML(context.Context, string) ([]byte, error) {
	return []byte("%PDF"), nil
}

func entry(tx uuid.UUID, account int64, typ accounting.EntryType, amount int64) accounting.JournalEntry {
	return accounting.JournalEntry{TransactionID: tx, AccountID: account, Type: typ, Amount: amount, Currency: usd, PostingDate: closing}
}

func newTestRouter(t *testing.T, entries []accounting.JournalEntry) http.Handler {
	t.Helper()
	source := &stubSource{
		accounts: []accounting.Account{
			{ID: 1, Code: "1000", Name: "Cash", Type: accounting.AccountTypeAsset},
			{ID: 2, Code: "2100", Name: "Tax Payable", Type: accounting.AccountTypeLiability},
			{ID: 3, Code: "4000", Name: "Revenue", Type: accounting.AccountTypeRevenue},
		},
		entries: entries,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := statements.NewService(source, nil, nil, usd, logger)
	handler := NewHandler(logger, svc, stubRenderer{}, 2)
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r
}

func balancedEntries() []accounting.JournalEntry {
	tx := uuid.New()
	return []accounting.JournalEntry{
		entry(tx, 1, accounting.EntryTypeDebit, 10000),
		entry(tx, 3, accounting.EntryTypeCredit, 8000),
		entry(tx, 2, accounting.EntryTypeCredit, 2000),
	}
}

func serve(router http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestBalanceSheetJSON(t *testing.T) {
	router := newTestRouter(t, balancedEntries())
	rr := serve(router, http.MethodGet, "/finance/reports/bs?as_of=2024-06-30", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Report  reports.Report   `json:"report"`
		Columns []reports.Column `json:"columns"`
		Rows    []reports.Row    `json:"rows"`
		Summary []reports.Row    `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assets, ok := body.Report.Section("assets")
	require.True(t, ok)
	assert.Equal(t, int64(10000), assets.Total.Amount())
	assert.Len(t, body.Columns, 3)
	assert.Len(t, body.Rows, 6)
	require.Len(t, body.Summary, 1)
	assert.Equal(t, "100.00", body.Summary[0].Cells[2])
}

func TestBalanceSheetSummaryView(t *testing.T) {
	router := newTestRouter(t, balancedEntries())
	rr := serve(router, http.MethodGet, "/finance/reports/bs?as_of=2024-06-30&view=summary", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Rows    []reports.Row `json:"rows"`
		Summary []reports.Row `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Rows, 3)
	for _, row := range body.Rows {
		assert.Equal(t, reports.RowSection, row.Kind)
	}
	assert.Len(t, body.Summary, 1)

	rr = serve(router, http.MethodGet, "/finance/reports/bs?as_of=2024-06-30&view=detail&depth=0", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Rows, 6)
}

func TestReportCSVExport(t *testing.T) {
	router := newTestRouter(t, balancedEntries())
	rr := serve(router, http.MethodGet, "/finance/reports/income_statement?from=2024-06-01&to=2024-06-30&format=csv", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "income-statement.csv")

	var body []string
	for _, line := range strings.Split(rr.Body.String(), "\r\n") {
		if line != "" && !strings.HasPrefix(line, "#") {
			body = append(body, line)
		}
	}
	records, err := csv.NewReader(strings.NewReader(strings.Join(body, "\n"))).ReadAll()
	require.NoError(t, err)
	last := records[len(records)-1]
	assert.Equal(t, []string{"", "Net Income", "80.00"}, last)
}

func TestReportPDFExportIsRateLimited(t *testing.T) {
	router := newTestRouter(t, balancedEntries())
	for i := 0; i < 2; i++ {
		rr := serve(router, http.MethodGet, "/finance/reports/tb?as_of=2024-06-30&format=pdf", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
		assert.Equal(t, "%PDF", rr.Body.String())
	}
	rr := serve(router, http.MethodGet, "/finance/reports/tb?as_of=2024-06-30&format=pdf", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = serve(router, http.MethodGet, "/finance/reports/tb?as_of=2024-06-30", nil)
	assert.Equal(t, http.StatusOK, rr.Code, "json responses are not export limited")
}

func TestReportErrors(t *testing.T) {
	tx := uuid.New()
	broken := []accounting.JournalEntry{
		entry(tx, 1, accounting.EntryTypeDebit, 5000),
		entry(tx, 3, accounting.EntryTypeCredit, 4000),
	}
	router := newTestRouter(t, broken)

	cases := []struct {
		name   string
		target string
		status int
	}{
		{"inconsistent ledger", "/finance/reports/bs?as_of=2024-06-30", http.StatusConflict},
		{"unknown kind", "/finance/reports/cash_flow?as_of=2024-06-30", http.StatusNotFound},
		{"missing dates", "/finance/reports/pl", http.StatusBadRequest},
		{"inverted range", "/finance/reports/pl?from=2024-06-30&to=2024-06-01", http.StatusBadRequest},
		{"bad format", "/finance/reports/pl?as_of=2024-06-30&format=xlsx", http.StatusBadRequest},
		{"bad entity", "/finance/reports/pl?as_of=2024-06-30&entities=abc", http.StatusBadRequest},
		{"entity axis without entities", "/finance/reports/bs?as_of=2024-06-30&by=entity", http.StatusBadRequest},
		{"bad view", "/finance/reports/bs?as_of=2024-06-30&view=compact", http.StatusBadRequest},
		{"negative depth", "/finance/reports/bs?as_of=2024-06-30&depth=-1", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(router, http.MethodGet, tc.target, nil)
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
			assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
		})
	}

	rr := serve(router, http.MethodGet, "/finance/reports/bs?as_of=2024-06-30", nil)
	assert.Contains(t, rr.Body.String(), "ledger inconsistency")
}

func TestComparativeEndpoint(t *testing.T) {
	router := newTestRouter(t, balancedEntries())
	rr := serve(router, http.MethodGet, "/finance/reports/bs/comparative?period=2024-05-31&period=2024-06-30", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Columns []reports.Column `json:"columns"`
		Rows    []reports.Row    `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Columns, 4)
	assert.Equal(t, "2024-05-31", body.Columns[2].Label)
	assert.Equal(t, []string{"", "Assets", "0.00", "100.00"}, body.Rows[0].Cells)

	rr = serve(router, http.MethodGet, "/finance/reports/bs/comparative", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCheckJournal(t *testing.T) {
	router := newTestRouter(t, nil)
	tx := uuid.New().String()

	balanced := `{"entries":[
		{"transaction_id":"` + tx + `","account_id":1,"type":"DEBIT","amount":"100.00","posting_date":"2024-06-30"},
		{"transaction_id":"` + tx + `","account_id":3,"type":"CREDIT","amount":"100","posting_date":"2024-06-30"}]}`
	rr := serve(router, http.MethodPost, "/finance/journals/check", strings.NewReader(balanced))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var result statements.CheckResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.True(t, result.Balanced)
	assert.Equal(t, int64(10000), result.Debits.Amount())

	unbalanced := `{"currency":"USD","entries":[
		{"transaction_id":"` + tx + `","account_id":1,"type":"DEBIT","amount":"50.00","posting_date":"2024-06-30"},
		{"transaction_id":"` + tx + `","account_id":3,"type":"CREDIT","amount":"40.00","posting_date":"2024-06-30"}]}`
	rr = serve(router, http.MethodPost, "/finance/journals/check", strings.NewReader(unbalanced))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.False(t, result.Balanced)
	assert.Len(t, result.Unbalanced, 1)

	cases := map[string]struct {
		body   string
		status int
	}{
		"fractional cents": {`{"entries":[{"transaction_id":"` + tx + `","account_id":1,"type":"DEBIT","amount":"1.005","posting_date":"2024-06-30"}]}`, http.StatusBadRequest},
		"bad type":         {`{"entries":[{"transaction_id":"` + tx + `","account_id":1,"type":"UP","amount":"1","posting_date":"2024-06-30"}]}`, http.StatusBadRequest},
		"unknown account":  {`{"entries":[{"transaction_id":"` + tx + `","account_id":77,"type":"DEBIT","amount":"1","posting_date":"2024-06-30"}]}`, http.StatusUnprocessableEntity},
		"empty":            {`{"entries":[]}`, http.StatusBadRequest},
		"unknown field":    {`{"entries":[],"memo":"x"}`, http.StatusBadRequest},
	}
	for name, tc := range cases {
		rr := serve(router, http.MethodPost, "/finance/journals/check", strings.NewReader(tc.body))
		assert.Equal(t, tc.status, rr.Code, "%s: %s", name, rr.Body.String())
	}
}

func TestIntegrityEndpoint(t *testing.T) {
	entries := balancedEntries()
	router := newTestRouter(t, entries)
	rr := serve(router, http.MethodGet, "/finance/integrity?from=2024-06-01&to=2024-06-30", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	broken := append(entries, entry(uuid.New(), 1, accounting.EntryTypeDebit, 1))
	router = newTestRouter(t, broken)
	rr = serve(router, http.MethodGet, "/finance/integrity?from=2024-06-01&to=2024-06-30", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	var report statements.IntegrityReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.False(t, report.Balanced)
	assert.Len(t, report.Unbalanced, 1)

	rr = serve(router, http.MethodGet, "/finance/integrity?from=2024-06-01", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
