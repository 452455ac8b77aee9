// README: Shared handler utilities: error mapping, response shaping, param parsing.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"medilink/internal/modules/location"
	"medilink/internal/modules/order"
	"medilink/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

func writeOrderError(c *gin.Context, err error) {
	switch err {
	case order.ErrBadRequest, order.ErrInvalidStatus:
		writeError(c, http.StatusBadRequest, err.Error())
	case order.ErrNotFound, order.ErrRiderNotFound:
		writeError(c, http.StatusNotFound, err.Error())
	case order.ErrInvalidState, order.ErrConflict:
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeLocationError(c *gin.Context, err error) {
	switch err {
	case location.ErrMissingCoordinates:
		writeError(c, http.StatusBadRequest, err.Error())
	case location.ErrOrderNotFound:
		writeError(c, http.StatusNotFound, err.Error())
	case location.ErrNotAssigned:
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func orderIDParam(c *gin.Context) (types.ID, bool) {
	n, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || n <= 0 {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return types.ID(n), true
}

// listFilter reads the common listing query parameters.
func listFilter(c *gin.Context) order.Filter {
	f := order.Filter{
		Status:    order.Status(c.Query("status")),
		StartDate: c.Query("startDate"),
		EndDate:   c.Query("endDate"),
		Search:    c.Query("search"),
	}
	f.Page, _ = strconv.Atoi(c.Query("page"))
	f.Limit, _ = strconv.Atoi(c.Query("limit"))
	if n, err := strconv.ParseInt(c.Query("partner_id"), 10, 64); err == nil {
		f.PartnerID = types.ID(n)
	}
	if n, err := strconv.ParseInt(c.Query("rider_id"), 10, 64); err == nil {
		f.RiderID = types.ID(n)
	}
	return f
}

func orderBody(o *order.Order) gin.H {
	return gin.H{
		"order_id":            o.ID,
		"order_number":        o.OrderNumber,
		"patient_id":          o.PatientID,
		"partner_org_id":      o.PartnerOrgID,
		"delivery_rider_id":   o.DeliveryRiderID,
		"order_status":        o.Status,
		"delivery_address":    o.DeliveryAddress,
		"patient_contact":     o.PatientContact,
		"cancelled_by":        o.CancelledBy,
		"cancellation_reason": o.CancellationReason,
		"created_at":          o.CreatedAt,
		"assigned_at":         o.AssignedAt,
	}
}

func itemBodies(items []order.Item) []gin.H {
	out := make([]gin.H, 0, len(items))
	for _, it := range items {
		out = append(out, gin.H{
			"item_id":      it.ID,
			"item_name":    it.Name,
			"description":  it.Description,
			"quantity":     it.Quantity,
			"unit_price":   it.UnitPrice,
			"total_price":  it.TotalPrice,
			"dosage":       it.Dosage,
			"instructions": it.Instructions,
		})
	}
	return out
}

func historyBodies(entries []order.HistoryEntry) []gin.H {
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"old_status":      e.OldStatus,
			"new_status":      e.NewStatus,
			"changed_by_id":   e.ChangedByID,
			"changed_by_type": e.ChangedByRole,
			"notes":           e.Notes,
			"timestamp":       e.CreatedAt,
		})
	}
	return out
}

func assignmentBodies(entries []order.AssignmentLogEntry) []gin.H {
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"rider_id":          e.RiderID,
			"assignment_method": e.Method,
			"assigned_by_id":    e.AssignedByID,
			"assigned_by_type":  e.AssignedByRole,
			"assignment_status": e.Status,
			"timestamp":         e.CreatedAt,
		})
	}
	return out
}

func locationBodies(samples []location.Sample) []gin.H {
	out := make([]gin.H, 0, len(samples))
	for _, sm := range samples {
		out = append(out, gin.H{
			"latitude":    sm.Position.Lat,
			"longitude":   sm.Position.Lng,
			"accuracy":    sm.Accuracy,
			"speed":       sm.Speed,
			"address":     sm.AddressText,
			"update_type": sm.UpdateType,
			"timestamp":   sm.CreatedAt,
		})
	}
	return out
}

func summaryBodies(summaries []order.Summary) []gin.H {
	out := make([]gin.H, 0, len(summaries))
	for _, sm := range summaries {
		body := orderBody(&sm.Order)
		body["patient_name"] = sm.PatientName
		body["partner_organization_name"] = sm.PartnerName
		body["delivery_rider_name"] = sm.RiderName
		body["rider_contact"] = sm.RiderContact
		body["item_count"] = sm.ItemCount
		out = append(out, body)
	}
	return out
}

func listResponse(c *gin.Context, summaries []order.Summary, total int, f order.Filter) {
	limit, _ := pageOf(f)
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"results":    len(summaries),
		"total":      total,
		"page":       page,
		"totalPages": totalPages,
		"orders":     summaryBodies(summaries),
	})
}

func pageOf(f order.Filter) (limit, page int) {
	limit = f.Limit
	if limit <= 0 {
		limit = 20
	}
	page = f.Page
	if page <= 0 {
		page = 1
	}
	return limit, page
}
