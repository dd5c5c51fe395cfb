package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/wholesale-order-core/internal/config"
	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/selector"
	"github.com/fairyhunter13/wholesale-order-core/internal/usecase"
)

// maxUploadBytes caps the ingest body size.
const maxUploadBytes = 10 << 20

// BlobPutter stores uploaded bytes and returns their reference.
type BlobPutter interface {
	Put(ctx context.Context, data []byte) (string, error)
}

// VendorSelector serves the ad-hoc selection endpoint.
type VendorSelector interface {
	Select(ctx domain.Context, productID string, quantity float64) (selector.Selection, error)
}

// Server wires the usecases to HTTP.
type Server struct {
	cfg      config.Config
	ingest   *usecase.IngestService
	status   *usecase.StatusService
	events   *usecase.EventService
	admin    *usecase.AdminService
	selector VendorSelector
	blobs    BlobPutter

	dbCheck    func(context.Context) error
	redisCheck func(context.Context) error

	validate *validator.Validate
}

// NewServer constructs a Server. redisCheck may be nil when Redis is not
// configured.
func NewServer(
	cfg config.Config,
	ingest *usecase.IngestService,
	status *usecase.StatusService,
	events *usecase.EventService,
	admin *usecase.AdminService,
	sel VendorSelector,
	blobs BlobPutter,
	dbCheck, redisCheck func(context.Context) error,
) *Server {
	return &Server{
		cfg:        cfg,
		ingest:     ingest,
		status:     status,
		events:     events,
		admin:      admin,
		selector:   sel,
		blobs:      blobs,
		dbCheck:    dbCheck,
		redisCheck: redisCheck,
		validate:   validator.New(),
	}
}

// Router assembles the full middleware stack and route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(Recoverer())
	r.Use(TraceMiddleware)
	r.Use(RequestID())
	r.Use(SecurityHeaders)
	r.Use(AccessLog())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: ParseOrigins(s.cfg.CORSAllowOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.HealthzHandler())
	r.Get("/readyz", s.ReadyzHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.RateLimitPerMin > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimitPerMin, time.Minute))
		}
		r.Post("/ingest", s.IngestHandler())
		r.Get("/artifacts/{id}", s.ArtifactStatusHandler())
		r.Get("/artifacts/{id}/broadcasts", s.ArtifactBroadcastsHandler())
		r.Post("/vendor-events", s.VendorEventHandler())
		r.Get("/vendors/{id}/metrics", s.VendorMetricsHandler())
		r.Get("/products/{id}/vendors", s.SelectVendorsHandler())
	})

	if s.cfg.AdminEnabled() {
		r.Route("/admin", func(r chi.Router) {
			r.Use(BasicAuth(s.cfg.AdminUsername, s.cfg.AdminPassword))
			s.MountAdmin(r)
		})
	}
	return r
}

// IngestHandler accepts an order photo upload plus webhook identity fields
// and starts the ingestion pipeline. Replayed webhooks return the original
// artifact id with 200 instead of 202.
func (s *Server) IngestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, r, fmt.Errorf("%w: multipart body required", domain.ErrInvalidArgument), nil)
			return
		}
		retailerID := r.FormValue("retailer_id")
		source := r.FormValue("source")
		externalID := r.FormValue("external_id")
		if retailerID == "" {
			writeError(w, r, fmt.Errorf("%w: retailer_id is required", domain.ErrInvalidArgument), nil)
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file field is required", domain.ErrInvalidArgument), nil)
			return
		}
		defer func() { _ = file.Close() }()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: reading upload: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		ref, err := s.blobs.Put(r.Context(), data)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		id, err := s.ingest.Ingest(r.Context(), retailerID, ref, source, externalID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"artifact_id": id})
	}
}

type logEntryView struct {
	Seq     int64  `json:"seq"`
	Stage   string `json:"stage"`
	Level   string `json:"level"`
	Message string `json:"message"`
	At      string `json:"at"`
}

// ArtifactStatusHandler returns the artifact with its audit trail.
func (s *Server) ArtifactStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.status.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		a := st.Artifact
		logView := make([]logEntryView, 0, len(st.Log))
		for _, e := range st.Log {
			logView = append(logView, logEntryView{
				Seq: e.Seq, Stage: string(e.Stage), Level: string(e.Level),
				Message: e.Message, At: e.At.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":               a.ID,
			"retailer_id":      a.RetailerID,
			"status":           a.Status,
			"extracted_items":  a.ExtractedItems,
			"normalized_items": a.NormalizedItems,
			"attempt_counts":   a.AttemptCounts,
			"last_error":       a.LastError,
			"created_at":       a.CreatedAt.UTC().Format(time.RFC3339),
			"updated_at":       a.UpdatedAt.UTC().Format(time.RFC3339),
			"log":              logView,
		})
	}
}

// ArtifactBroadcastsHandler lists the RFQ rows emitted for an artifact.
func (s *Server) ArtifactBroadcastsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := s.status.BroadcastsFor(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"broadcasts": rows})
	}
}

type vendorEventRequest struct {
	EventID         string  `json:"event_id" validate:"required"`
	Type            string  `json:"type" validate:"required,oneof=assigned responded delivered cancelled"`
	VendorID        string  `json:"vendor_id" validate:"required"`
	OrderID         string  `json:"order_id" validate:"required"`
	Response        string  `json:"response" validate:"omitempty,oneof=ACCEPT REJECT"`
	ResponseSeconds float64 `json:"response_seconds" validate:"gte=0"`
	Success         bool    `json:"success"`
	ByVendor        bool    `json:"by_vendor"`
}

// VendorEventHandler folds one order-lifecycle event into the vendor
// performance store. Duplicate event ids return 200 with applied=false.
func (s *Server) VendorEventHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req vendorEventRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.validate.Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		applied, err := s.events.Report(r.Context(), domain.VendorEvent{
			EventID:         req.EventID,
			Type:            domain.VendorEventType(req.Type),
			VendorID:        req.VendorID,
			OrderID:         req.OrderID,
			At:              time.Now().UTC(),
			Response:        domain.VendorResponse(req.Response),
			ResponseSeconds: req.ResponseSeconds,
			Success:         req.Success,
			ByVendor:        req.ByVendor,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
	}
}

// VendorMetricsHandler returns the stored performance row for a vendor.
func (s *Server) VendorMetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := s.events.VendorMetrics(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"vendor_id":               m.VendorID,
			"reliability_score":       m.ReliabilityScore,
			"acceptance_rate":         m.AcceptanceRate,
			"delivery_success_rate":   m.DeliverySuccessRate,
			"avg_response_seconds":    m.AvgResponseSeconds,
			"cancellation_rate":       m.CancellationRate,
			"price_vs_market_percent": m.PriceVsMarketPercent,
			"samples_n":               m.SamplesN,
			"last_updated":            m.LastUpdated.UTC().Format(time.RFC3339),
		})
	}
}

// SelectVendorsHandler runs an ad-hoc vendor selection for a product.
func (s *Server) SelectVendorsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qty := 1.0
		if raw := r.URL.Query().Get("qty"); raw != "" {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil || parsed <= 0 {
				writeError(w, r, fmt.Errorf("%w: qty must be a positive number", domain.ErrInvalidArgument), nil)
				return
			}
			qty = parsed
		}
		sel, err := s.selector.Select(r.Context(), chi.URLParam(r, "id"), qty)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"product_id": sel.ProductID,
			"considered": len(sel.Considered),
			"vendors":    sel.Ranked,
		})
	}
}

// HealthzHandler is the liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler checks the backing services.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]string{}
		ready := true
		run := func(name string, fn func(context.Context) error) {
			if fn == nil {
				checks[name] = "skipped"
				return
			}
			if err := fn(ctx); err != nil {
				checks[name] = err.Error()
				ready = false
				return
			}
			checks[name] = "ok"
		}
		run("db", s.dbCheck)
		run("redis", s.redisCheck)

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	if err := jsonDecoderStrict(r).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", domain.ErrInvalidArgument)
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}
