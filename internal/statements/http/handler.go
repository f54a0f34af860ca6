package statementshttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/accounting/reports/export"
	"github.com/odyssey-erp/ledger/internal/money"
	"github.com/odyssey-erp/ledger/internal/platform/httpx"
	"github.com/odyssey-erp/ledger/internal/statements"
)

const dateLayout = "2006-01-02"

// ReportService is the subset of statements.Service the handlers call.
type ReportService interface {
	Build(ctx context.Context, req statements.ReportRequest) (reports.Report, error)
	BuildComparative(ctx context.Context, kind reports.Kind, ranges []reports.DateRange, entities []int64) (reports.Comparative, error)
	BuildByEntity(ctx context.Context, kind reports.Kind, rng reports.DateRange, entities []int64) (reports.Comparative, error)
	CheckEntries(ctx context.Context, currency money.Code, entries []accounting.JournalEntry) (statements.CheckResult, error)
	CheckIntegrity(ctx context.Context, rng reports.DateRange) (statements.IntegrityReport, error)
	Currency() money.Code
}

// Handler exposes statements over HTTP.
type Handler struct {
	logger      *slog.Logger
	service     ReportService
	pdf         *export.PDFExporter
	validate    *validator.Validate
	exportLimit func(http.Handler) http.Handler
	now         func() time.Time
}

// NewHandler constructs the handler. A nil renderer disables PDF output.
// exportsPerMinute bounds CSV and PDF downloads per client.
func NewHandler(logger *slog.Logger, service ReportService, renderer export.HTMLRenderer, exportsPerMinute int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if exportsPerMinute <= 0 {
		exportsPerMinute = 10
	}
	var pdf *export.PDFExporter
	if renderer != nil {
		pdf = &export.PDFExporter{Renderer: renderer}
	}
	limiter := httprate.Limit(exportsPerMinute, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr, nil
		}
		return "ip:" + host, nil
	}))
	return &Handler{
		logger:      logger,
		service:     service,
		pdf:         pdf,
		validate:    validator.New(),
		exportLimit: limiter,
		now:         time.Now,
	}
}

// MountRoutes registers finance endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/finance", func(r chi.Router) {
		r.With(h.limitExports).Get("/reports/{kind}", h.handleReport)
		r.With(h.limitExports).Get("/reports/{kind}/comparative", h.handleComparative)
		r.Post("/journals/check", h.handleCheckJournal)
		r.Get("/integrity", h.handleIntegrity)
	})
}

// limitExports applies the export rate limit to CSV and PDF requests only.
func (h *Handler) limitExports(next http.Handler) http.Handler {
	limited := h.exportLimit(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch strings.ToLower(r.URL.Query().Get("format")) {
		case "csv", "pdf":
			limited.ServeHTTP(w, r)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

type reportQuery struct {
	AsOf     string `validate:"required_without_all=From To,omitempty,datetime=2006-01-02"`
	From     string `validate:"required_with=To,omitempty,datetime=2006-01-02"`
	To       string `validate:"required_with=From,omitempty,datetime=2006-01-02"`
	Entities string `validate:"omitempty"`
	By       string `validate:"omitempty,oneof=account entity"`
	Format   string `validate:"omitempty,oneof=json csv pdf"`
	View     string `validate:"omitempty,oneof=summary detail"`
	Depth    string `validate:"omitempty,number"`
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	kind, err := reports.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, httpx.Classify(httpx.ErrNotFound, err))
		return
	}
	q := r.URL.Query()
	query := reportQuery{
		AsOf:     q.Get("as_of"),
		From:     q.Get("from"),
		To:       q.Get("to"),
		Entities: q.Get("entities"),
		By:       q.Get("by"),
		Format:   strings.ToLower(q.Get("format")),
		View:     strings.ToLower(q.Get("view")),
		Depth:    q.Get("depth"),
	}
	if fields := h.validationErrors(query); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	view, err := query.viewOptions()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	rng, err := query.dateRange()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	entities, err := parseEntities(query.Entities)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if query.By == "entity" {
		cmp, err := h.service.BuildByEntity(r.Context(), kind, rng, entities)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.writeTable(w, r, query.Format, cmp, reports.TransformComparative(cmp), export.Metadata{Entities: entities})
		return
	}

	report, err := h.service.Build(r.Context(), statements.ReportRequest{Kind: kind, Range: rng, Entities: entities})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeTable(w, r, query.Format, report, reports.Transform(report, view...), export.Metadata{Entities: report.Entities})
}

func (h *Handler) handleComparative(w http.ResponseWriter, r *http.Request) {
	kind, err := reports.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, httpx.Classify(httpx.ErrNotFound, err))
		return
	}
	q := r.URL.Query()
	periods := q["period"]
	if len(periods) == 0 {
		httpx.ValidationProblem(w, map[string]string{"period": "at least one period is required"})
		return
	}
	ranges := make([]reports.DateRange, 0, len(periods))
	for _, raw := range periods {
		rng, err := reports.ParseDateRange(raw)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		ranges = append(ranges, rng)
	}
	entities, err := parseEntities(q.Get("entities"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	format := strings.ToLower(q.Get("format"))
	if format != "" && format != "json" && format != "csv" && format != "pdf" {
		httpx.ValidationProblem(w, map[string]string{"format": "must be json, csv or pdf"})
		return
	}
	cmp, err := h.service.BuildComparative(r.Context(), kind, ranges, entities)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeTable(w, r, format, cmp, reports.TransformComparative(cmp), export.Metadata{Entities: entities})
}

// writeTable renders the payload as JSON or as a CSV/PDF download.
func (h *Handler) writeTable(w http.ResponseWriter, r *http.Request, format string, payload any, table reports.Table, meta export.Metadata) {
	meta.GeneratedAt = h.now()
	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName(table, "csv")))
		if err := export.WriteCSV(w, table, meta); err != nil {
			h.logger.Error("csv export failed", slog.Any("error", err))
		}
	case "pdf":
		data, err := h.pdf.Render(r.Context(), table, meta.GeneratedAt)
		if err != nil {
			if errors.Is(err, export.ErrRendererUnavailable) {
				httpx.RespondError(w, httpx.Classify(httpx.ErrUnavailable, err))
				return
			}
			h.logger.Error("pdf export failed", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName(table, "pdf")))
		_, _ = w.Write(data)
	default:
		httpx.JSON(w, http.StatusOK, map[string]any{
			"report":  payload,
			"columns": table.Columns(),
			"rows":    reports.Collect(table),
			"summary": table.Summary(),
		})
	}
}

type checkRequest struct {
	Currency string       `json:"currency" validate:"omitempty,len=3,uppercase"`
	Entries  []checkEntry `json:"entries" validate:"required,min=1,dive"`
}

type checkEntry struct {
	TransactionID string `json:"transaction_id" validate:"required,uuid"`
	AccountID     int64  `json:"account_id" validate:"required,gt=0"`
	Type          string `json:"type" validate:"required,oneof=DEBIT CREDIT"`
	Amount        string `json:"amount" validate:"required,numeric"`
	PostingDate   string `json:"posting_date" validate:"required,datetime=2006-01-02"`
	EntityID      *int64 `json:"entity_id,omitempty" validate:"omitempty,gt=0"`
}

func (h *Handler) handleCheckJournal(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if fields := h.validationErrors(req); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	currency := money.Code(req.Currency)
	if currency == "" {
		currency = h.service.Currency()
	}
	entries := make([]accounting.JournalEntry, 0, len(req.Entries))
	for i, in := range req.Entries {
		entry, err := in.toEntry(currency)
		if err != nil {
			h.respondError(w, r, fmt.Errorf("entry %d: %w", i+1, err))
			return
		}
		entries = append(entries, entry)
	}
	result, err := h.service.CheckEntries(r.Context(), currency, entries)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (in checkEntry) toEntry(currency money.Code) (accounting.JournalEntry, error) {
	txID, err := uuid.Parse(in.TransactionID)
	if err != nil {
		return accounting.JournalEntry{}, httpx.Classify(httpx.ErrValidation, err)
	}
	amount, err := money.Parse(in.Amount, currency)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	date, err := time.Parse(dateLayout, in.PostingDate)
	if err != nil {
		return accounting.JournalEntry{}, httpx.Classify(httpx.ErrValidation, err)
	}
	entry, err := accounting.NewJournalEntry(txID, in.AccountID, accounting.EntryType(in.Type), amount.Amount(), currency, date)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	if in.EntityID != nil {
		entry = entry.WithEntity(*in.EntityID)
	}
	return entry, nil
}

func (h *Handler) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := reportQuery{From: q.Get("from"), To: q.Get("to")}
	if query.From == "" || query.To == "" {
		httpx.ValidationProblem(w, map[string]string{"from": "from and to are required"})
		return
	}
	if fields := h.validationErrors(query); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	rng, err := query.dateRange()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	result, err := h.service.CheckIntegrity(r.Context(), rng)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusOK
	if !result.Balanced {
		status = http.StatusConflict
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) validationErrors(v any) map[string]string {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return map[string]string{"general": err.Error()}
	}
	out := make(map[string]string, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		out[fieldErr.Namespace()] = fieldErr.Error()
	}
	return out
}

// respondError maps domain failures onto problem responses. Ledger
// inconsistencies are reported with their detail because they need
// operator attention.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, accounting.ErrLedgerInconsistency):
		h.logger.Error("ledger inconsistency", slog.String("path", r.URL.Path), slog.Any("error", err))
		err = httpx.Classify(httpx.ErrConflict, err)
	case errors.Is(err, reports.ErrUnknownKind):
		err = httpx.Classify(httpx.ErrNotFound, err)
	case errors.Is(err, reports.ErrEmptyRange),
		errors.Is(err, reports.ErrInvalidDateRange),
		errors.Is(err, reports.ErrNoColumns),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrInvalidCurrency),
		errors.Is(err, httpx.ErrValidation):
		err = httpx.Classify(httpx.ErrValidation, err)
	case errors.Is(err, money.ErrCurrencyMismatch),
		errors.Is(err, accounting.ErrUnknownAccount),
		errors.Is(err, accounting.ErrInvalidEntryType):
		err = httpx.Classify(httpx.ErrUnprocessable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("request cancelled", slog.String("path", r.URL.Path), slog.Any("error", err))
		err = httpx.Classify(httpx.ErrUnavailable, err)
	default:
		h.logger.Error("statements request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (q reportQuery) dateRange() (reports.DateRange, error) {
	if q.AsOf != "" {
		asOf, err := time.Parse(dateLayout, q.AsOf)
		if err != nil {
			return reports.DateRange{}, httpx.Classify(httpx.ErrValidation, err)
		}
		return reports.AsOf(asOf), nil
	}
	from, err := time.Parse(dateLayout, q.From)
	if err != nil {
		return reports.DateRange{}, httpx.Classify(httpx.ErrValidation, err)
	}
	to, err := time.Parse(dateLayout, q.To)
	if err != nil {
		return reports.DateRange{}, httpx.Classify(httpx.ErrValidation, err)
	}
	return reports.NewDateRange(from, to)
}

// viewOptions maps view=summary and depth=N onto transformer options.
func (q reportQuery) viewOptions() ([]reports.TransformOption, error) {
	var opts []reports.TransformOption
	if q.View == "summary" {
		opts = append(opts, reports.SummaryOnly())
	}
	if q.Depth != "" {
		depth, err := strconv.Atoi(q.Depth)
		if err != nil || depth < 0 {
			return nil, httpx.Classify(httpx.ErrValidation, fmt.Errorf("invalid depth %q", q.Depth))
		}
		opts = append(opts, reports.WithMaxDepth(depth))
	}
	return opts, nil
}

func parseEntities(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, httpx.Classify(httpx.ErrValidation, fmt.Errorf("invalid entity id %q", part))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func fileName(table reports.Table, ext string) string {
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(table.Title()), " ", "-"))
	if slug == "" {
		slug = "report"
	}
	return slug + "." + ext
}
