// README: API gateway; registers role-scoped routes and delegates to module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medilink/internal/auth"
	"medilink/internal/http/handlers"
	"medilink/internal/http/middleware"
	"medilink/internal/infra"
	"medilink/internal/modules/location"
	"medilink/internal/modules/order"
	"medilink/internal/ws"
)

type ServerDeps struct {
	Order    *order.Service
	Location *location.Service
	Hub      *ws.Hub
	Verifier infra.TokenVerifier
}

type Server struct {
	order    *order.Service
	location *location.Service
	hub      *ws.Hub
	verifier infra.TokenVerifier
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		order:    deps.Order,
		location: deps.Location,
		hub:      deps.Hub,
		verifier: deps.Verifier,
	}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logging())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	authed := r.Group("/", middleware.Auth(s.verifier))

	patient := handlers.NewPatientHandler(s.order, s.location)
	pg := authed.Group("/api/patient", middleware.RequireRole(auth.RolePatient))
	pg.POST("/orders", patient.Place)
	pg.GET("/orders", patient.List)
	pg.GET("/orders/:id", patient.Get)
	pg.POST("/orders/:id/cancel", patient.Cancel)
	pg.POST("/orders/:id/approval", patient.Approve)

	partner := handlers.NewPartnerHandler(s.order)
	og := authed.Group("/api/partner")
	partnerOnly := middleware.RequireRole(auth.RolePartner)
	og.GET("/orders", partnerOnly, partner.List)
	og.POST("/orders/:id/accept", partnerOnly, partner.Accept)
	// Assignment is shared with administrators.
	og.POST("/orders/:id/assign", middleware.RequireRole(auth.RolePartner, auth.RoleAdmin), partner.Assign)
	og.POST("/orders/:id/cancel", partnerOnly, partner.Cancel)

	rider := handlers.NewRiderHandler(s.order, s.location)
	rg := authed.Group("/api/rider", middleware.RequireRole(auth.RoleRider))
	rg.GET("/orders", rider.ListAssigned)
	rg.POST("/orders/:id/status", rider.UpdateStatus)
	rg.POST("/location", rider.UpdateLocation)

	admin := handlers.NewAdminHandler(s.order, s.location)
	ag := authed.Group("/api/admin", middleware.RequireRole(auth.RoleAdmin))
	ag.GET("/orders", admin.List)
	ag.GET("/orders/:id", admin.Get)

	wsHandler := handlers.NewWSHandler(s.hub, s.order, s.location)
	authed.GET("/ws", wsHandler.Serve)

	return r
}
