// README: Partner organization endpoints: list client orders, accept, assign, cancel.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medilink/internal/http/middleware"
	"medilink/internal/modules/order"
	"medilink/internal/types"
)

type PartnerHandler struct {
	orders *order.Service
}

func NewPartnerHandler(orders *order.Service) *PartnerHandler {
	return &PartnerHandler{orders: orders}
}

func (h *PartnerHandler) List(c *gin.Context) {
	actor, _ := middleware.Caller(c)
	f := listFilter(c)
	summaries, total, err := h.orders.ListForPartner(c.Request.Context(), actor, f)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	listResponse(c, summaries, total, f)
}

func (h *PartnerHandler) Accept(c *gin.Context) {
	actor, _ := middleware.Caller(c)
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	o, err := h.orders.Accept(c.Request.Context(), actor, id)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Order accepted successfully",
		"order":   orderBody(o),
	})
}

type assignReq struct {
	RiderID          int64  `json:"rider_id"`
	AssignmentMethod string `json:"assignment_method"`
}

// Assign binds a rider to an accepted order. Shared with administrators.
func (h *PartnerHandler) Assign(c *gin.Context) {
	actor, _ := middleware.Caller(c)
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil || req.RiderID <= 0 {
		writeError(c, http.StatusBadRequest, "rider_id is required")
		return
	}
	o, err := h.orders.Assign(c.Request.Context(), actor, id, order.AssignCommand{
		RiderID: types.ID(req.RiderID),
		Method:  req.AssignmentMethod,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Order assigned successfully",
		"order":   orderBody(o),
	})
}

func (h *PartnerHandler) Cancel(c *gin.Context) {
	actor, _ := middleware.Caller(c)
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req cancelReq
	_ = c.ShouldBindJSON(&req)
	o, err := h.orders.Cancel(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Order cancelled successfully",
		"order":   orderBody(o),
	})
}
