package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/mentorcall/internal/config"
	"github.com/1ureka/mentorcall/internal/protocol"
	"github.com/1ureka/mentorcall/internal/util"
)

const (
	presenceTimeout = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server is the relay HTTP server.
type Server struct {
	cfg      *config.RelayConfig
	hub      *Hub
	auth     *Authenticator
	presence Presence
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewServer wires a relay around presence. A nil presence keeps membership
// in memory.
func NewServer(cfg *config.RelayConfig, presence Presence) *Server {
	if presence == nil {
		presence = NewMemoryPresence()
	}
	return &Server{
		cfg:      cfg,
		hub:      NewHub(),
		auth:     NewAuthenticator(cfg.JWTSecret),
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origins are checked by OriginFilter.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Hub exposes room membership, mostly for tests.
func (s *Server) Hub() *Hub { return s.hub }

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	if s.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(OriginFilter(s.cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := router.Group("/", s.auth.Middleware())
	{
		authed.GET("/ws", s.handleSocket)
		authed.GET("/turn-credentials", s.handleCredentials)
		authed.GET("/calls/:callId/participants", s.handleParticipants)
	}
	return router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	util.LogInfo("relay listening on %s", s.cfg.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), s.presence.Close())
	}
}

func (s *Server) handleSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.LogWarning("relay: upgrade failed: %v", err)
		return
	}

	conn := &Conn{
		id:       uuid.NewString(),
		userID:   userFrom(c),
		verified: s.auth.Enabled(),
		ws:       ws,
		srv:      s,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}
	util.LogDebug("relay: socket %s connected (user %q)", conn.id, conn.userID)

	go conn.writePump()
	go conn.readPump()
}

func (s *Server) handleCredentials(c *gin.Context) {
	user := userFrom(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown user"})
		return
	}
	c.JSON(http.StatusOK, IssueCredentials(s.cfg.TURNSecret, user, s.cfg.CredentialTTL, s.cfg.TURNURLs, s.now()))
}

func (s *Server) handleParticipants(c *gin.Context) {
	callID := protocol.ID(c.Param("callId"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), presenceTimeout)
	defer cancel()
	members, err := s.presence.Members(ctx, callID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": callID, "participants": members})
}

// joinCall adds c to the call room, acknowledges it and tells the others.
func (s *Server) joinCall(c *Conn, callID protocol.ID) {
	room := protocol.CallRoom(callID)
	n := s.hub.Join(c, room)
	s.track(func(ctx context.Context) error { return s.presence.Add(ctx, callID, c.userID) }, c)

	c.emit(protocol.EventRoomJoined, protocol.RoomJoined{Room: room, ParticipantCount: n})

	data, err := protocol.Encode(protocol.EventParticipantJoined, protocol.ParticipantJoined{CallID: callID, ParticipantCount: n})
	if err == nil {
		s.hub.Broadcast(room, data, c)
	}
	util.LogDebug("relay: %s joined %s (%d)", c.id, room, n)
}

// leaveCall tells the remaining members that c left.
func (s *Server) leaveCall(c *Conn, callID protocol.ID, remaining int) {
	s.track(func(ctx context.Context) error { return s.presence.Remove(ctx, callID, c.userID) }, c)

	data, err := protocol.Encode(protocol.EventParticipantLeft, protocol.ParticipantLeft{CallID: callID, ParticipantCount: remaining})
	if err == nil {
		s.hub.Broadcast(protocol.CallRoom(callID), data, nil)
	}
	util.LogDebug("relay: %s left call %s (%d remain)", c.id, callID, remaining)
}

func (s *Server) disconnect(c *Conn) {
	for room, remaining := range s.hub.LeaveAll(c) {
		if callID, ok := strings.CutPrefix(room, "call_"); ok {
			s.leaveCall(c, protocol.ID(callID), remaining)
		}
	}
	util.LogDebug("relay: socket %s disconnected", c.id)
}

// track runs a presence update; failures only cost cross-instance visibility.
func (s *Server) track(op func(ctx context.Context) error, c *Conn) {
	if c.userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := op(ctx); err != nil {
		util.LogWarning("relay: presence update failed: %v", err)
	}
}

// OriginFilter rejects browser requests from origins not in allowed. Requests
// without an Origin header (native clients) pass.
func OriginFilter(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		ok := origin == ""
		for _, a := range allowed {
			if a == "*" || a == origin {
				ok = true
				break
			}
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Origin not allowed"})
			return
		}

		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
