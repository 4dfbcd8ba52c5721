package relay

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"prism-live/domain"
)

// Authenticator resolves the identity behind a websocket upgrade request.
type Authenticator interface {
	IdentityFromRequest(*http.Request) (domain.Identity, error)
}

// Server exposes the hub over HTTP.
type Server struct {
	echo     *echo.Echo
	hub      *Hub
	auth     Authenticator
	upgrader websocket.Upgrader
	logger   *log.Logger

	// publishToken guards the operator endpoints; empty disables them.
	publishToken string
}

func NewServer(hub *Hub, auth Authenticator, publishToken string, logger *log.Logger) *Server {
	if hub == nil || auth == nil {
		panic("hub and authenticator are required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Server{
		echo:         echo.New(),
		hub:          hub,
		auth:         auth,
		logger:       logger,
		publishToken: publishToken,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.echo.HideBanner = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	s.echo.GET("/ws", s.handleSocket)
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.POST("/events", s.handlePublish)
	s.echo.DELETE("/sessions/:userId", s.handleDisconnect)
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start(addr string) error { return s.echo.Start(addr) }

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.echo.Shutdown(ctx)
}

// Publish forwards an event from any source to the hub.
func (s *Server) Publish(env domain.Envelope) {
	if _, err := s.hub.Publish(env); err != nil {
		s.logger.WithError(err).WithField("task", env.TargetID()).Error("publish event")
	}
}

func (s *Server) handleSocket(c echo.Context) error {
	id, err := s.auth.IdentityFromRequest(c.Request())
	if err != nil {
		s.logger.WithError(err).Debug("rejecting live connection")
		return c.NoContent(http.StatusUnauthorized)
	}
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return nil
	}
	s.hub.Serve(ws, id)
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "sessions": s.hub.Sessions()})
}

func (s *Server) authorizedOperator(c echo.Context) bool {
	if s.publishToken == "" {
		return false
	}
	parts := strings.SplitN(c.Request().Header.Get(echo.HeaderAuthorization), " ", 2)
	return len(parts) == 2 && parts[0] == "Bearer" && parts[1] == s.publishToken
}

// handlePublish accepts one event frame and fans it out.
func (s *Server) handlePublish(c echo.Context) error {
	if !s.authorizedOperator(c) {
		return c.NoContent(http.StatusUnauthorized)
	}
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	env, err := decodeEvent(data)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	n, err := s.hub.Publish(env)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]int{"delivered": n})
}

func (s *Server) handleDisconnect(c echo.Context) error {
	if !s.authorizedOperator(c) {
		return c.NoContent(http.StatusUnauthorized)
	}
	n := s.hub.Disconnect(c.Param("userId"))
	return c.JSON(http.StatusOK, map[string]int{"closed": n})
}

// decodeEvent parses and validates a wire frame carrying a task event.
func decodeEvent(data []byte) (domain.Envelope, error) {
	f, err := domain.UnmarshalFrame(data)
	if err != nil {
		return domain.Envelope{}, err
	}
	env, err := domain.DecodeEnvelope(f)
	if err != nil {
		return domain.Envelope{}, err
	}
	if err := env.Validate(); err != nil {
		return domain.Envelope{}, err
	}
	return env, nil
}

func encodeEvent(env domain.Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	f, err := domain.EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	return domain.MarshalFrame(f)
}
