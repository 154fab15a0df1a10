package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/livekit/protocol/livekit"

	"github.com/vinesh178/customer-service-agent/internal/callctx"
	"github.com/vinesh178/customer-service-agent/internal/telephony"
)

// roomAdmin is the slice of the room provider the control plane needs.
type roomAdmin interface {
	ListRooms(ctx context.Context) ([]*livekit.Room, error)
	JoinToken(roomName, participantName string) (string, error)
	ServerURL() string
}

// callService places and manages outbound calls.
type callService interface {
	MakeCall(ctx context.Context, phone string, customerData map[string]string) telephony.CallResult
	ListActiveCalls(ctx context.Context) telephony.ListResult
	HangupCall(ctx context.Context, roomName, identity string) telephony.HangupResult
}

// Server is the supervisor/control-plane HTTP API.
type Server struct {
	echo  *echo.Echo
	rooms roomAdmin
	calls callService
}

// New constructs the server with routes. authToken guards /api routes; empty
// disables auth for local development.
func New(authToken string, rooms roomAdmin, calls callService) *Server {
	s := &Server{echo: newEcho(), rooms: rooms, calls: calls}

	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	api := s.echo.Group("/api", BearerAuth(func() string { return authToken }))
	api.GET("/rooms", s.listRooms)
	api.GET("/join-token", s.joinToken)
	api.POST("/calls", s.makeCall)
	api.GET("/calls", s.listCalls)
	api.POST("/calls/hangup", s.hangupCall)

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error { return s.echo.Start(addr) }

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	return e
}

type roomSummary struct {
	Name            string `json:"name"`
	NumParticipants uint32 `json:"num_participants"`
	CreationTime    int64  `json:"creation_time"`
}

// listRooms returns occupied call rooms, skipping rooms that are not calls.
func (s *Server) listRooms(c echo.Context) error {
	rooms, err := s.rooms.ListRooms(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	out := make([]roomSummary, 0)
	for _, r := range rooms {
		direction, _ := callctx.ParseRoomName(r.Name)
		if direction != callctx.Inbound && direction != callctx.Outbound {
			continue
		}
		if r.NumParticipants == 0 {
			continue
		}
		out = append(out, roomSummary{
			Name:            r.Name,
			NumParticipants: r.NumParticipants,
			CreationTime:    r.CreationTime,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"rooms": out})
}

// joinToken issues a supervisor token for an existing room.
func (s *Server) joinToken(c echo.Context) error {
	roomName := c.QueryParam("room")
	name := c.QueryParam("name")
	if roomName == "" || name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "room and name are required"})
	}

	rooms, err := s.rooms.ListRooms(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	found := false
	for _, r := range rooms {
		if r.Name == roomName {
			found = true
			break
		}
	}
	if !found {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "room not found"})
	}

	token, err := s.rooms.JoinToken(roomName, name)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"token": token,
		"url":   s.rooms.ServerURL(),
		"room":  roomName,
	})
}

type makeCallRequest struct {
	PhoneNumber  string            `json:"phone_number"`
	CustomerData map[string]string `json:"customer_data"`
}

// makeCall dials a customer. Provider failures come back as a result value
// with success=false, not an HTTP error.
func (s *Server) makeCall(c echo.Context) error {
	var req makeCallRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.PhoneNumber == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "phone_number is required"})
	}
	res := s.calls.MakeCall(c.Request().Context(), req.PhoneNumber, req.CustomerData)
	return c.JSON(http.StatusOK, res)
}

func (s *Server) listCalls(c echo.Context) error {
	return c.JSON(http.StatusOK, s.calls.ListActiveCalls(c.Request().Context()))
}

type hangupRequest struct {
	RoomName string `json:"room_name"`
	Identity string `json:"identity"`
}

func (s *Server) hangupCall(c echo.Context) error {
	var req hangupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.RoomName == "" || req.Identity == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "room_name and identity are required"})
	}
	return c.JSON(http.StatusOK, s.calls.HangupCall(c.Request().Context(), req.RoomName, req.Identity))
}
