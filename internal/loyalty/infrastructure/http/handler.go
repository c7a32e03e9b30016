package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/POS-Sale-System/internal/loyalty/domain"
	"github.com/dmehra2102/POS-Sale-System/pkg/httpjson"
)

type Balances interface {
	Balance(ctx context.Context, customerID string) (domain.CustomerLoyalty, error)
}

type Handler struct {
	log      *slog.Logger
	balances Balances
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, balances Balances) *Handler {
	return &Handler{log: log, balances: balances, tracer: otel.Tracer("loyalty-http")}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/customers/{id}/loyalty", h.getLoyalty)
}

func (h *Handler) getLoyalty(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetLoyalty")
	defer span.End()

	l, err := h.balances.Balance(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrCustomerNotFound) {
		httpjson.Message(w, http.StatusNotFound, "CustomerNotFound", err.Error())
		return
	}
	if err != nil {
		h.log.Error("loyalty lookup failed", "err", err)
		httpjson.Message(w, http.StatusServiceUnavailable, "Unavailable", "storage unavailable")
		return
	}
	httpjson.Write(w, http.StatusOK, l)
}
