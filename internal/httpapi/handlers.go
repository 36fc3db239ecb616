package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"barpos/backend/internal/domain"
)

type cartLineRequest struct {
	ProductID string `json:"product_id"`
}

type cartQuantityRequest struct {
	Delta int `json:"delta"`
}

type checkoutRequest struct {
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	Phone         string               `json:"phone,omitempty"`
	Total         decimal.Decimal      `json:"total"`
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.AdjustStock(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleCartView(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.CartView(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCartClear(w http.ResponseWriter, r *http.Request) {
	if err := a.service.CartClear(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCartAdd(w http.ResponseWriter, r *http.Request) {
	var req cartLineRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("product_id is required"))
		return
	}
	view, err := a.service.CartAdd(r.Context(), req.ProductID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCartQuantity(w http.ResponseWriter, r *http.Request) {
	var req cartQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.CartChangeQuantity(r.Context(), chi.URLParam(r, "productID"), req.Delta)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCartRemove(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.CartRemove(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.SubmitCart(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": order})
}

func (a *API) handleActiveOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.service.ListActiveOrders(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleCompletedOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.service.ListCompletedOrders(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleDispatch(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.Dispatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// handleSettle answers 202 with the payment intent for mobile money; the
// order is settled later by the gateway callback.
func (a *API) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req domain.SettleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	orderID := chi.URLParam(r, "id")

	if req.PaymentMethod == domain.PaymentMpesa {
		intent, err := a.service.InitiateMobileSettlement(r.Context(), orderID, req.Phone)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"intent": intent})
		return
	}

	order, err := a.service.Settle(r.Context(), orderID, req.PaymentMethod)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleVoid(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.Void(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleDirectSale(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.CheckoutCart(r.Context(), req.PaymentMethod, req.Phone, req.Total)
	if err != nil {
		a.fail(w, err)
		return
	}
	if result.Intent != nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"intent": result.Intent})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": result.Order})
}
