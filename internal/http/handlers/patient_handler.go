// README: Patient endpoints: place, list, track, cancel, approve.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medilink/internal/http/middleware"
	"medilink/internal/modules/location"
	"medilink/internal/modules/order"
	"medilink/internal/types"
)

type PatientHandler struct {
	orders   *order.Service
	tracking *location.Service
}

func NewPatientHandler(orders *order.Service, tracking *location.Service) *PatientHandler {
	return &PatientHandler{orders: orders, tracking: tracking}
}

type placeOrderReq struct {
	PartnerOrgID    int64          `json:"partner_org_id"`
	DeliveryAddress string         `json:"delivery_address"`
	PatientContact  string         `json:"patient_contact"`
	Items           []orderItemReq `json:"items"`
}

type orderItemReq struct {
	ItemName     string  `json:"item_name"`
	Description  string  `json:"description"`
	Quantity     int     `json:"quantity"`
	UnitPrice    float64 `json:"unit_price"`
	Dosage       string  `json:"dosage"`
	Instructions string  `json:"instructions"`
}

func (h *PatientHandler) Place(c *gin.Context) {
	actor, _ := middleware.Caller(c)
	var req placeOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := order.PlaceCommand{
		PartnerOrgID:    types.ID(req.PartnerOrgID),
		DeliveryAddress: req.DeliveryAddress,
		PatientContact:  req.PatientContact,
	}
	for _, it := range req.Items {
		cmd.Items = append(cmd.Items, order.ItemInput{
			Name:         it.ItemName,
			Description:  it.Description,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			Dosage:       it.Dosage,
			Instructions: it.Instructions,
		})
	}
	o, items, err := h.orders.Place(c.Request.Context(), actor, cmd)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	body := orderBody(o)
	body["items"] = itemBodies(items)
	c.JSON(http.StatusCreated, gin.H{
		"status":  "success",
		"message": "Order placed successfully",
		"order":   body,
	})
}

func (h *PatientHandler) List(c *gin.Context) {
	actor, _ := middleware.Caller(c)
	f := listFilter(c)
	summaries, total, err := h.orders.ListForPatient(c.Request.Context(), actor, f)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	listResponse(c, summaries, total, f)
}

// Get returns the order with its items and the capped location trail. The
// response is composed here from typed queries, not by the store.
func (h *PatientHandler) Get(c *gin.Context) {
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
	trail, err := h.tracking.History(c.Request.Context(), o.ID)
	if err != nil {
		writeLocationError(c, err)
		return
	}
	body := orderBody(o)
	body["items"] = itemBodies(items)
	body["location_history"] = locationBodies(trail)
	c.JSON(http.StatusOK, gin.H{"status": "success", "order": body})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *PatientHandler) Cancel(c *gin.Context) {
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

type approvalReq struct {
	Approved *bool  `json:"approved"`
	Feedback string `json:"feedback"`
}

func (h *PatientHandler) Approve(c *gin.Context) {
	actor, _ := middleware.Caller(c)
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req approvalReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Approved == nil {
		writeError(c, http.StatusBadRequest, "approved is required")
		return
	}
	o, err := h.orders.Approve(c.Request.Context(), actor, id, *req.Approved, req.Feedback)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	message := "Delivery feedback recorded"
	if *req.Approved {
		message = "Delivery approved successfully"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": message,
		"order":   orderBody(o),
	})
}
