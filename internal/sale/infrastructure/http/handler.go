package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/POS-Sale-System/internal/sale/domain"
	"github.com/dmehra2102/POS-Sale-System/pkg/httpjson"
	"github.com/dmehra2102/POS-Sale-System/pkg/idempotency"
)

const IdempotencyHeader = "Idempotency-Key"

type Service interface {
	CreateSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, error)
	GetSale(ctx context.Context, id string) (domain.Sale, error)
	Refund(ctx context.Context, req domain.RefundRequest) (domain.RefundResult, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
	idem    *idempotency.Store
	tracer  trace.Tracer
}

// NewHandler wires the sale endpoints. A nil idem disables Idempotency-Key
// handling.
func NewHandler(log *slog.Logger, service Service, idem *idempotency.Store) *Handler {
	return &Handler{
		log:     log,
		service: service,
		idem:    idem,
		tracer:  otel.Tracer("sale-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/sales", h.createSale)
	r.Get("/sales/{id}", h.getSale)
	r.Post("/sales/{id}/refunds", h.refund)
}

func (h *Handler) start(r *http.Request, name string) (context.Context, trace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return h.tracer.Start(ctx, name)
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "CreateSale")
	defer span.End()

	var req domain.SaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpjson.Message(w, http.StatusBadRequest, string(domain.KindInvalidInput), "invalid body")
		return
	}

	var idemKey, fingerprint string
	if key := r.Header.Get(IdempotencyHeader); key != "" && h.idem != nil {
		var err error
		if fingerprint, err = idempotency.Fingerprint(req); err != nil {
			h.fail(w, span, err)
			return
		}
		idemKey = h.idem.RequestKey("sales", key)
		claim, err := h.idem.Begin(ctx, idemKey, fingerprint)
		if err != nil {
			h.log.Error("idempotency check failed", "err", err)
			httpjson.Message(w, http.StatusServiceUnavailable, string(domain.KindUnavailable), "idempotency store unavailable")
			return
		}
		if claim.Mismatch {
			httpjson.Message(w, http.StatusUnprocessableEntity, "IdempotencyKeyReused", "idempotency key was already used for a different request")
			return
		}
		if claim.InFlight() {
			httpjson.Message(w, http.StatusConflict, "RequestInProgress", "a request with this idempotency key is still in progress")
			return
		}
		if !claim.Fresh {
			w.Header().Set("Idempotent-Replayed", "true")
			httpjson.Raw(w, http.StatusOK, []byte(claim.Value))
			return
		}
	}

	res, err := h.service.CreateSale(ctx, req)
	if err != nil {
		if idemKey != "" {
			if relErr := h.idem.Release(context.WithoutCancel(ctx), idemKey); relErr != nil {
				h.log.Warn("idempotency release failed", "err", relErr)
			}
		}
		h.fail(w, span, err)
		return
	}

	body, err := json.Marshal(res)
	if err != nil {
		h.fail(w, span, err)
		return
	}
	if idemKey != "" {
		if err := h.idem.Complete(context.WithoutCancel(ctx), idemKey, fingerprint, string(body)); err != nil {
			h.log.Warn("idempotency complete failed", "sale_id", res.SaleID, "err", err)
		}
	}
	httpjson.Raw(w, http.StatusCreated, body)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "GetSale")
	defer span.End()

	sale, err := h.service.GetSale(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, span, err)
		return
	}
	httpjson.Write(w, http.StatusOK, sale)
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "RefundSale")
	defer span.End()

	var req domain.RefundRequest
	// an empty body refunds everything outstanding
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httpjson.Message(w, http.StatusBadRequest, string(domain.KindInvalidInput), "invalid body")
		return
	}
	req.SaleID = chi.URLParam(r, "id")

	res, err := h.service.Refund(ctx, req)
	if err != nil {
		h.fail(w, span, err)
		return
	}
	httpjson.Write(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, span trace.Span, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		span.SetStatus(codes.Error, "cancelled")
		httpjson.Message(w, http.StatusServiceUnavailable, string(domain.KindUnavailable), "request cancelled")
		return
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		h.log.Error("unexpected sale error", "err", err)
		de = &domain.Error{Kind: domain.KindUnavailable, Message: "internal error"}
	}
	status := StatusFor(de.Kind)
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, string(de.Kind))
	}
	httpjson.Error(w, status, de)
}

func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindOutOfStock:
		return http.StatusUnprocessableEntity
	case domain.KindProductNotFound, domain.KindCustomerNotFound, domain.KindSaleNotFound:
		return http.StatusNotFound
	case domain.KindInvalidTransition, domain.KindTransactionConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}
