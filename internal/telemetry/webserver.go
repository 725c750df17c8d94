package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rjboer/rxcal/internal/logging"
)

// WebServer exposes hub history, run status and live updates over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// NewWebServer builds a server for the hub listening on addr.
func NewWebServer(addr string, hub *Hub, logger logging.Logger) *WebServer {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebServer{
		hub:    hub,
		logger: logger.With(logging.F("subsystem", "web")),
		srv:    &http.Server{Addr: addr, Handler: NewRouter(hub)},
	}
}

// NewRouter returns the gin engine serving the hub endpoints.
func NewRouter(hub *Hub) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Status())
	})
	api.GET("/experiments", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Experiments())
	})
	api.GET("/trials", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Trials(c.Query("experiment")))
	})
	api.GET("/live", func(c *gin.Context) {
		ch, cancel := hub.Subscribe()
		defer cancel()
		c.Stream(func(w io.Writer) bool {
			select {
			case u, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent("update", u)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	})
	return r
}

// Start begins listening and shuts down when the context is canceled.
func (w *WebServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web telemetry shutdown", logging.F("err", err))
		}
	}()

	w.logger.Info("web telemetry listening", logging.F("addr", w.srv.Addr))
	if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.logger.Error("web telemetry server error", logging.F("err", err))
	}
}
