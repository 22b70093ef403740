package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/inventory-service/internal/inventory/application"
	"github.com/orderflow/inventory-service/internal/inventory/domain"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("inventory-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/health", h.health)
	r.Get("/api/v1/inventory", h.listInventory)
	r.Get("/api/v1/inventory/{productId}", h.getInventory)
	r.Post("/api/v1/inventory", h.createProduct)
	r.Put("/api/v1/inventory/{productId}/stock", h.adjustTotal)
	r.Post("/api/v1/inventory/release", h.release)
	return r
}

type productResponse struct {
	ProductID      string `json:"productId"`
	ProductName    string `json:"productName"`
	AvailableStock int64  `json:"availableStock"`
	ReservedStock  int64  `json:"reservedStock"`
	TotalStock     int64  `json:"totalStock"`
	LastUpdated    string `json:"lastUpdated"`
}

func toProductResponse(rec domain.ProductStock) productResponse {
	return productResponse{
		ProductID:      rec.ProductID,
		ProductName:    rec.ProductName,
		AvailableStock: rec.Available(),
		ReservedStock:  rec.Reserved,
		TotalStock:     rec.Total,
		LastUpdated:    rec.LastUpdated.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "UP",
		"service":   "inventory-service",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) listInventory(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListInventory")
	defer span.End()

	records, err := h.service.List(ctx)
	if err != nil {
		h.log.Error("list inventory failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	products := make([]productResponse, 0, len(records))
	for _, rec := range records {
		products = append(products, toProductResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"products":      products,
		"totalProducts": len(products),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) getInventory(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetInventory")
	defer span.End()

	productID := chi.URLParam(r, "productId")
	rec, err := h.service.Status(ctx, productID)
	if errors.Is(err, domain.ErrProductNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Product not found", "requestedId": productID})
		return
	}
	if err != nil {
		h.log.Error("get inventory failed", "product_id", productID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(rec))
}

type createProductReq struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int64  `json:"quantity"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateProduct")
	defer span.End()

	var req createProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.ProductID == "" || req.ProductName == "" || req.Quantity < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "productId, productName and a non-negative quantity are required"})
		return
	}

	rec := domain.ProductStock{
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
		Total:       req.Quantity,
		LastUpdated: time.Now().UTC(),
	}
	err := h.service.CreateProduct(ctx, rec)
	switch {
	case errors.Is(err, domain.ErrProductExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "Product already exists", "productId": req.ProductID})
	case errors.Is(err, domain.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case err != nil:
		h.log.Error("create product failed", "product_id", req.ProductID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	default:
		writeJSON(w, http.StatusCreated, toProductResponse(rec))
	}
}

type adjustTotalReq struct {
	Total int64 `json:"total"`
}

func (h *Handler) adjustTotal(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdjustTotal")
	defer span.End()

	productID := chi.URLParam(r, "productId")
	var req adjustTotalReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	err := h.service.AdjustTotal(ctx, productID, req.Total)
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Product not found", "requestedId": productID})
	case errors.Is(err, domain.ErrTotalBelowReserved):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		h.log.Error("adjust total failed", "product_id", productID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

type releaseReq struct {
	Items []domain.OrderItem `json:"items"`
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReleaseStock")
	defer span.End()

	var req releaseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	items := make([]domain.ReservationItem, 0, len(req.Items))
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantity must be positive"})
			return
		}
		items = append(items, domain.ReservationItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	if err := h.service.Release(ctx, items); err != nil {
		h.log.Error("release failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
