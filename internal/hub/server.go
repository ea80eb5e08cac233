package hub

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tradedesk/internal/logger"
	"tradedesk/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Account is the broker account surface exposed over HTTP.
type Account interface {
	Login(ctx context.Context, creds map[string]string) error
	Logout(ctx context.Context) error
	CloseAllPositions(ctx context.Context) error
}

// apiResponse is the {status, message} body every action route returns.
type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func ok(message string) apiResponse     { return apiResponse{Status: "success", Message: message} }
func failed(message string) apiResponse { return apiResponse{Status: "error", Message: message} }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	hub      *Hub
	accounts map[string]Account
	engine   *gin.Engine
	http     *http.Server
}

func NewServer(addr string, h *Hub, accounts map[string]Account, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		hub:      h,
		accounts: accounts,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/ws", s.handleWebSocket)

	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/state/:id", s.getState)

	brokers := api.Group("/brokers/:venue")
	brokers.POST("/login", s.postLogin)
	brokers.POST("/logout", s.postLogout)
	brokers.POST("/close-all", s.postCloseAll)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown; http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	logger.Info(context.Background(), "HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "Failed to upgrade websocket", "error", err)
		return
	}

	client := newWSClient(s.hub, conn)
	go client.writePump()
	s.hub.Connect(context.Background(), client)
	go client.readPump()
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"time":    time.Now().Unix(),
	})
}

func (s *Server) getState(c *gin.Context) {
	s.hub.mu.RLock()
	domains := s.hub.domains
	s.hub.mu.RUnlock()

	if domains == nil {
		c.JSON(http.StatusServiceUnavailable, failed("domains not ready"))
		return
	}
	d, found := domains.Get(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, failed("unknown domain "+c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, d.GetState())
}

func (s *Server) account(c *gin.Context) (Account, bool) {
	acc, found := s.accounts[c.Param("venue")]
	if !found {
		c.JSON(http.StatusNotFound, failed("unknown broker "+c.Param("venue")))
	}
	return acc, found
}

func (s *Server) postLogin(c *gin.Context) {
	acc, found := s.account(c)
	if !found {
		return
	}

	creds := map[string]string{}
	if err := c.ShouldBindJSON(&creds); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, failed("invalid credentials body"))
		return
	}

	if err := acc.Login(c.Request.Context(), creds); err != nil {
		c.JSON(statusFor(err), failed(types.UserMessage(err)))
		return
	}
	c.JSON(http.StatusOK, ok("logged in"))
}

func (s *Server) postLogout(c *gin.Context) {
	acc, found := s.account(c)
	if !found {
		return
	}
	if err := acc.Logout(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), failed(types.UserMessage(err)))
		return
	}
	c.JSON(http.StatusOK, ok("logged out"))
}

func (s *Server) postCloseAll(c *gin.Context) {
	acc, found := s.account(c)
	if !found {
		return
	}
	if err := acc.CloseAllPositions(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), failed(types.UserMessage(err)))
		return
	}
	c.JSON(http.StatusOK, ok("close-all submitted"))
}

func statusFor(err error) int {
	switch {
	case types.IsAuth(err):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrNotImplemented):
		return http.StatusNotImplemented
	default:
		return http.StatusBadGateway
	}
}
