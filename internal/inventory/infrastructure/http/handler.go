package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	catalog "github.com/dmehra2102/POS-Sale-System/internal/catalog/domain"
	"github.com/dmehra2102/POS-Sale-System/internal/inventory/application"
	"github.com/dmehra2102/POS-Sale-System/internal/inventory/domain"
	"github.com/dmehra2102/POS-Sale-System/pkg/httpjson"
	"github.com/dmehra2102/POS-Sale-System/pkg/txn"
)

type Service interface {
	Record(ctx context.Context, c application.Change) (int, error)
	Snapshot(ctx context.Context, productID string, limit int) (application.Snapshot, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("inventory-http"),
	}
}

type movementReq struct {
	Kind      string `json:"kind"`
	Quantity  int    `json:"quantity"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/inventory/{productID}/movements", h.recordMovement)
	r.Get("/inventory/{productID}", h.snapshot)
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, "RecordMovement")
	defer span.End()

	var req movementReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpjson.Message(w, http.StatusBadRequest, "InvalidInput", "invalid body")
		return
	}
	kind, err := domain.ParseMovementKind(req.Kind)
	if err != nil {
		httpjson.Message(w, http.StatusBadRequest, "InvalidInput", err.Error())
		return
	}

	productID := chi.URLParam(r, "productID")
	level, err := h.service.Record(ctx, application.Change{
		ProductID: productID,
		Kind:      kind,
		Quantity:  req.Quantity,
		Reference: req.Reference,
		Reason:    req.Reason,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"product_id": productID, "stock": level})
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "StockSnapshot")
	defer span.End()

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httpjson.Message(w, http.StatusBadRequest, "InvalidInput", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	snap, err := h.service.Snapshot(ctx, chi.URLParam(r, "productID"), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, snap)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var oos *domain.OutOfStockError
	switch {
	case errors.As(err, &oos):
		httpjson.Error(w, http.StatusUnprocessableEntity, map[string]any{
			"kind":       "OutOfStock",
			"message":    oos.Error(),
			"product_id": oos.ProductID,
			"requested":  oos.Requested,
			"available":  oos.Available,
		})
	case errors.Is(err, domain.ErrInvalidMovement):
		httpjson.Message(w, http.StatusBadRequest, "InvalidInput", err.Error())
	case errors.Is(err, catalog.ErrProductNotFound):
		httpjson.Message(w, http.StatusNotFound, "ProductNotFound", err.Error())
	case errors.Is(err, txn.ErrConflict):
		httpjson.Message(w, http.StatusConflict, "TransactionConflict", "concurrent update conflict, retry the request")
	default:
		h.log.Error("inventory request failed", "err", err)
		httpjson.Message(w, http.StatusServiceUnavailable, "Unavailable", "storage unavailable")
	}
}
