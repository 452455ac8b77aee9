// README: Administrator endpoints: global listing and the full order dossier.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medilink/internal/http/middleware"
	"medilink/internal/modules/location"
	"medilink/internal/modules/order"
)

type AdminHandler struct {
	orders   *order.Service
	tracking *location.Service
}

func NewAdminHandler(orders *order.Service, tracking *location.Service) *AdminHandler {
	return &AdminHandler{orders: orders, tracking: tracking}
}

func (h *AdminHandler) List(c *gin.Context) {
	f := listFilter(c)
	if f.Limit <= 0 {
		f.Limit = 50
	}
	summaries, total, err := h.orders.ListAll(c.Request.Context(), f)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	listResponse(c, summaries, total, f)
}

// Get composes the complete dossier: order, items, status history, and the
// location trail.
func (h *AdminHandler) Get(c *gin.Context) {
	actor, _ := middleware.Caller(c)
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	o, err := h.orders.Get(c.Request.Context(), actor, id)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	items, err := h.orders.Items(c.Request.Context(), o.ID)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	history, err := h.orders.History(c.Request.Context(), o.ID)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	assignments, err := h.orders.AssignmentLog(c.Request.Context(), o.ID)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	trail, err := h.tracking.History(c.Request.Context(), o.ID)
	if err != nil {
		writeLocationError(c, err)
		return
	}
	body := orderBody(o)
	body["items"] = itemBodies(items)
	body["status_history"] = historyBodies(history)
	body["assignment_log"] = assignmentBodies(assignments)
	body["location_history"] = locationBodies(trail)
	c.JSON(http.StatusOK, gin.H{"status": "success", "order": body})
}
