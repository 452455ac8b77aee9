// README: Delivery rider endpoints: assigned orders, status updates, location samples.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medilink/internal/http/middleware"
	"medilink/internal/modules/location"
	"medilink/internal/modules/order"
	"medilink/internal/types"
)

type RiderHandler struct {
	orders   *order.Service
	tracking *location.Service
}

func NewRiderHandler(orders *order.Service, tracking *location.Service) *RiderHandler {
	return &RiderHandler{orders: orders, tracking: tracking}
}

func (h *RiderHandler) ListAssigned(c *gin.Context) {
	actor, _ := middleware.Caller(c)
	f := order.Filter{Status: order.Status(c.Query("status"))}
	summaries, err := h.orders.ListForRider(c.Request.Context(), actor, f)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"results": len(summaries),
		"orders":  summaryBodies(summaries),
	})
}

type riderStatusReq struct {
	Status string `json:"status"`
}

func (h *RiderHandler) UpdateStatus(c *gin.Context) {
	actor, _ := middleware.Caller(c)
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req riderStatusReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		writeError(c, http.StatusBadRequest, "status is required")
		return
	}
	o, err := h.orders.UpdateRiderStatus(c.Request.Context(), actor, id, order.Status(req.Status))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Order status updated to " + string(o.Status),
		"order":   orderBody(o),
	})
}

type locationReq struct {
	OrderID     *int64   `json:"order_id"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Accuracy    *float64 `json:"accuracy"`
	Speed       *float64 `json:"speed"`
	AddressText string   `json:"address_text"`
	UpdateType  string   `json:"update_type"`
}

func (h *RiderHandler) UpdateLocation(c *gin.Context) {
	actor, _ := middleware.Caller(c)
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := location.RecordCommand{
		RiderID:     actor.UserID,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Accuracy:    req.Accuracy,
		Speed:       req.Speed,
		AddressText: req.AddressText,
		UpdateType:  req.UpdateType,
	}
	if req.OrderID != nil {
		v := types.ID(*req.OrderID)
		cmd.OrderID = &v
	}
	sm, err := h.tracking.Record(c.Request.Context(), cmd)
	if err != nil {
		writeLocationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"message":     "Location updated successfully",
		"location_id": sm.ID,
	})
}
