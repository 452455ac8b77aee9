// README: WebSocket endpoint: upgrades, attaches sessions, dispatches inbound frames.
package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"medilink/internal/auth"
	"medilink/internal/http/middleware"
	"medilink/internal/modules/location"
	"medilink/internal/modules/order"
	"medilink/internal/types"
	"medilink/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type WSHandler struct {
	hub      *ws.Hub
	orders   *order.Service
	tracking *location.Service
}

func NewWSHandler(hub *ws.Hub, orders *order.Service, tracking *location.Service) *WSHandler {
	return &WSHandler{hub: hub, orders: orders, tracking: tracking}
}

// Serve upgrades the connection and blocks for its lifetime.
func (h *WSHandler) Serve(c *gin.Context) {
	actor, _ := middleware.Caller(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade for %s: %v", actor.Channel(), err)
		return
	}
	s := h.hub.Attach(conn, actor, h)
	s.Send("connected", map[string]string{"channel": actor.Channel()})
	s.Run(c.Request.Context())
}

// inboundFrame is the envelope clients send. Data is decoded per event.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (h *WSHandler) HandleMessage(ctx context.Context, s *ws.Session, data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		s.SendError("invalid message")
		return
	}
	switch f.Event {
	case "join":
		// Channel membership is derived from the token at attach time, so
		// join is an acknowledgment only.
		s.Send("joined", map[string]string{"channel": s.Principal().Channel()})
	case "rider-location-update":
		h.handleLocationUpdate(ctx, s, f.Data)
	case "order-status-update":
		h.handleStatusUpdate(ctx, s, f.Data)
	case "track-order":
		h.handleTrackOrder(ctx, s, f.Data)
	default:
		s.SendError("unknown event: " + f.Event)
	}
}

type wsLocationUpdate struct {
	OrderID     *int64   `json:"order_id"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Accuracy    *float64 `json:"accuracy"`
	Speed       *float64 `json:"speed"`
	AddressText string   `json:"address_text"`
	UpdateType  string   `json:"update_type"`
}

func (h *WSHandler) handleLocationUpdate(ctx context.Context, s *ws.Session, data json.RawMessage) {
	actor := s.Principal()
	if actor.Role != auth.RoleRider {
		s.SendError("only riders can report locations")
		return
	}
	var req wsLocationUpdate
	if err := json.Unmarshal(data, &req); err != nil {
		s.SendError("invalid location payload")
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
	if _, err := h.tracking.Record(ctx, cmd); err != nil {
		s.SendError(err.Error())
	}
}

type wsStatusUpdate struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

func (h *WSHandler) handleStatusUpdate(ctx context.Context, s *ws.Session, data json.RawMessage) {
	actor := s.Principal()
	if actor.Role != auth.RoleRider {
		s.SendError("only riders can update status over this channel")
		return
	}
	var req wsStatusUpdate
	if err := json.Unmarshal(data, &req); err != nil || req.OrderID <= 0 || req.Status == "" {
		s.SendError("order_id and status are required")
		return
	}
	if _, err := h.orders.UpdateRiderStatus(ctx, actor, types.ID(req.OrderID), order.Status(req.Status)); err != nil {
		s.SendError(err.Error())
	}
}

type wsTrackOrder struct {
	OrderID int64 `json:"order_id"`
}

// handleTrackOrder replies on the requesting session only, with the order's
// current status and the assigned rider's last-known position when present.
func (h *WSHandler) handleTrackOrder(ctx context.Context, s *ws.Session, data json.RawMessage) {
	actor := s.Principal()
	var req wsTrackOrder
	if err := json.Unmarshal(data, &req); err != nil || req.OrderID <= 0 {
		s.SendError("order_id is required")
		return
	}
	o, err := h.orders.Get(ctx, actor, types.ID(req.OrderID))
	if err != nil {
		s.SendError(err.Error())
		return
	}
	body := map[string]any{
		"order_id":     o.ID,
		"order_number": o.OrderNumber,
		"order_status": o.Status,
	}
	if o.DeliveryRiderID != nil {
		last, ok, err := h.tracking.LastKnown(ctx, *o.DeliveryRiderID)
		if err != nil {
			log.Printf("order %d: last-known lookup: %v", o.ID, err)
		} else if ok {
			body["rider_location"] = map[string]any{
				"latitude":   last.Position.Lat,
				"longitude":  last.Position.Lng,
				"updated_at": last.UpdatedAt,
			}
		}
	}
	s.Send("order-tracking-info", body)
}
