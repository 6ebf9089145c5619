// Package api serves the component over HTTP: health, status, Prometheus metrics,
// summary state commands and device commands.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/arloliu/go-monochromator/component"
	"github.com/arloliu/go-monochromator/device"
	"github.com/arloliu/go-monochromator/logger"
	"github.com/arloliu/go-monochromator/motion"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server routes HTTP requests to a Component.
type Server struct {
	comp      *component.Component
	logger    logger.Logger
	startedAt time.Time
	router    *gin.Engine
}

// New creates the router for comp. Metrics are gathered from gatherer.
func New(comp *component.Component, gatherer prometheus.Gatherer, l logger.Logger) *Server {
	if l == nil {
		l = logger.GetLogger()
	}

	s := &Server{
		comp:      comp,
		logger:    logger.Component(l, "api"),
		startedAt: time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/health", s.health)
	r.GET("/status", s.status)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	state := r.Group("/state")
	state.POST("/start", s.stateCommand(comp.Start))
	state.POST("/enable", s.stateCommand(comp.Enable))
	state.POST("/disable", s.stateCommand(func(context.Context) error { return comp.Disable() }))
	state.POST("/standby", s.stateCommand(func(context.Context) error { return comp.Standby() }))
	state.POST("/clear_fault", s.stateCommand(func(context.Context) error { return comp.ClearFault() }))
	state.POST("/exit_control", s.stateCommand(func(context.Context) error { return comp.ExitControl() }))

	cmd := r.Group("/commands")
	cmd.POST("/wavelength", s.changeWavelength)
	cmd.POST("/grating", s.selectGrating)
	cmd.POST("/slit", s.changeSlitWidth)
	cmd.POST("/calibrate", s.calibrateWavelength)
	cmd.POST("/setup", s.updateSetup)
	cmd.POST("/reset", s.resetController)

	s.router = r

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		status := c.Writer.Status()
		kv := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", time.Since(start),
		}
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Error("http request", kv...)
		case status >= http.StatusBadRequest:
			s.logger.Warn("http request", kv...)
		default:
			s.logger.Debug("http request", kv...)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	summary, _ := s.comp.State()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"state":  summary.String(),
		"uptime": time.Since(s.startedAt).String(),
	})
}

type positionBody struct {
	Wavelength float64 `json:"wavelength"`
	Grating    int     `json:"grating"`
	EntrySlit  float64 `json:"entry_slit"`
	ExitSlit   float64 `json:"exit_slit"`
}

func toPositionBody(p device.Position) positionBody {
	return positionBody{
		Wavelength: p.Wavelength,
		Grating:    int(p.Grating),
		EntrySlit:  p.EntrySlit,
		ExitSlit:   p.ExitSlit,
	}
}

func (p positionBody) position() device.Position {
	return device.Position{
		Wavelength: p.Wavelength,
		Grating:    device.Grating(p.Grating),
		EntrySlit:  p.EntrySlit,
		ExitSlit:   p.ExitSlit,
	}
}

func (s *Server) status(c *gin.Context) {
	summary, detailed := s.comp.State()
	code, report := s.comp.ErrorCode()

	body := gin.H{
		"summary_state":  summary.String(),
		"detailed_state": detailed.String(),
		"error_code":     int(code),
		"error_report":   report,
	}

	if st, ok := s.comp.DeviceStatus(); ok {
		dev := gin.H{
			"session":      st.Session.String(),
			"status":       st.Status.String(),
			"position":     toPositionBody(st.Position),
			"in_bounds":    st.InBounds,
			"offset":       st.Offset,
			"offset_known": st.OffsetKnown,
			"moving":       st.Moving,
			"heartbeat":    st.HeartbeatRunning,
			"hb_failures":  st.HeartbeatFailures,
		}
		if st.Moving {
			dev["target"] = toPositionBody(st.Target)
		}
		if !st.HeartbeatLastSuccess.IsZero() {
			dev["hb_last_success"] = st.HeartbeatLastSuccess
		}
		body["device"] = dev
	}

	c.JSON(http.StatusOK, body)
}

func (s *Server) stateCommand(f func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := f(c.Request.Context()); err != nil {
			s.fail(c, err)
			return
		}

		summary, detailed := s.comp.State()
		c.JSON(http.StatusOK, gin.H{
			"summary_state":  summary.String(),
			"detailed_state": detailed.String(),
		})
	}
}

func (s *Server) changeWavelength(c *gin.Context) {
	var req struct {
		Wavelength *float64 `json:"wavelength" binding:"required"`
	}
	if !s.bind(c, &req) {
		return
	}

	r, err := s.comp.ChangeWavelength(c.Request.Context(), *req.Wavelength)
	s.reply(c, r, err)
}

func (s *Server) selectGrating(c *gin.Context) {
	var req struct {
		Grating *int `json:"grating" binding:"required"`
	}
	if !s.bind(c, &req) {
		return
	}

	r, err := s.comp.SelectGrating(c.Request.Context(), device.Grating(*req.Grating))
	s.reply(c, r, err)
}

func (s *Server) changeSlitWidth(c *gin.Context) {
	var req struct {
		Slit  int      `json:"slit" binding:"required"`
		Width *float64 `json:"width" binding:"required"`
	}
	if !s.bind(c, &req) {
		return
	}

	r, err := s.comp.ChangeSlitWidth(c.Request.Context(), device.Slit(req.Slit), *req.Width)
	s.reply(c, r, err)
}

func (s *Server) calibrateWavelength(c *gin.Context) {
	var req struct {
		Offset *float64 `json:"offset" binding:"required"`
	}
	if !s.bind(c, &req) {
		return
	}

	r, err := s.comp.CalibrateWavelength(c.Request.Context(), *req.Offset)
	s.reply(c, r, err)
}

func (s *Server) updateSetup(c *gin.Context) {
	var req positionBody
	if !s.bind(c, &req) {
		return
	}

	r, err := s.comp.UpdateSetup(c.Request.Context(), req.position())
	s.reply(c, r, err)
}

func (s *Server) resetController(c *gin.Context) {
	r, err := s.comp.ResetController(c.Request.Context())
	s.reply(c, r, err)
}

func (s *Server) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}

	return true
}

func (s *Server) reply(c *gin.Context, r motion.Result, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result":   r.Kind.String(),
		"step":     r.Step,
		"progress": r.Progress,
		"elapsed":  r.Elapsed.String(),
		"position": toPositionBody(r.Position),
	})
}

func (s *Server) fail(c *gin.Context, err error) {
	c.JSON(statusCode(err), gin.H{"error": err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, device.ErrOutOfRange), errors.Is(err, motion.ErrInvalidSlit):
		return http.StatusBadRequest
	case errors.Is(err, component.ErrInvalidCommand),
		errors.Is(err, component.ErrNotEnabled),
		errors.Is(err, component.ErrNotReady),
		errors.Is(err, motion.ErrMotionInProgress):
		return http.StatusConflict
	case errors.Is(err, motion.ErrMoveTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, component.ErrConnectionFailed),
		errors.Is(err, component.ErrHardwareNotReady),
		errors.Is(err, motion.ErrControllerFault):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
