// Package server is the thin HTTP control-plane over the session store, the
// pack index, and the runner event proxy. Handlers marshal requests and
// delegate; they hold no state of their own.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"flowbench/internal/config"
	"flowbench/internal/pack"
	"flowbench/internal/runnerproxy"
	"flowbench/internal/session"
)

// Server wires the control-plane routes to their collaborators.
type Server struct {
	logger   *slog.Logger
	cfg      *config.Config
	sessions session.Store
	proxy    *runnerproxy.Proxy
	echo     *echo.Echo
}

func New(logger *slog.Logger, cfg *config.Config, sessions session.Store, proxy *runnerproxy.Proxy) *Server {
	s := &Server{logger: logger, cfg: cfg, sessions: sessions, proxy: proxy}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", s.healthz)

	e.GET("/sessions", s.listSessions)
	e.POST("/sessions", s.upsertSession)
	e.DELETE("/sessions", s.purgeSessions)
	e.POST("/sessions/resume", s.resumeSession)

	e.GET("/packs", s.listPacks)
	e.POST("/packs/reload", s.reloadPacks)

	e.GET("/runner/events", s.listRunnerEvents)
	e.DELETE("/runner/events", s.clearRunnerEvents)
	e.POST("/runner/emit", s.runnerEmit)

	s.echo = e
	return s
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		addr := s.cfg.Server.ListenAddr
		s.logger.Info("control plane listening", "addr", addr, "tls", s.cfg.Server.TLS.Enable)
		if s.cfg.Server.TLS.Enable {
			errCh <- s.echo.StartTLS(addr, s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		} else {
			errCh <- s.echo.Start(addr)
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func filterFromQuery(c echo.Context) session.Filter {
	return session.Filter{
		Tenant: c.QueryParam("tenant"),
		Team:   c.QueryParam("team"),
		User:   c.QueryParam("user"),
	}
}

type sessionListResponse struct {
	Sessions []session.Record `json:"sessions"`
}

func (s *Server) listSessions(c echo.Context) error {
	records, err := s.sessions.List(c.Request().Context(), filterFromQuery(c))
	if err != nil {
		return s.internalError(c, "list sessions", err)
	}
	if records == nil {
		records = []session.Record{}
	}
	return c.JSON(http.StatusOK, sessionListResponse{Sessions: records})
}

func (s *Server) upsertSession(c echo.Context) error {
	var payload session.Upsert
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid session payload"))
	}
	record, err := s.sessions.Upsert(c.Request().Context(), payload)
	if err != nil {
		if errors.Is(err, session.ErrTenantRequired) {
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		}
		return s.internalError(c, "upsert session", err)
	}
	return c.JSON(http.StatusOK, record)
}

type purgeResponse struct {
	Removed int `json:"removed"`
}

// purgeSessions applies the configured default tenant/team when the caller
// supplies no selectors at all, so an unqualified DELETE cannot wipe every
// tenant by accident.
func (s *Server) purgeSessions(c echo.Context) error {
	filter := filterFromQuery(c)
	if filter.Tenant == "" && filter.Team == "" && filter.User == "" {
		filter.Tenant = s.cfg.Defaults.Tenant
		filter.Team = s.cfg.Defaults.Team
	}
	removed, err := s.sessions.Purge(c.Request().Context(), filter)
	if err != nil {
		return s.internalError(c, "purge sessions", err)
	}
	return c.JSON(http.StatusOK, purgeResponse{Removed: removed})
}

type resumeRequest struct {
	Tenant string `json:"tenant"`
	Team   string `json:"team,omitempty"`
	User   string `json:"user,omitempty"`
}

// resumeSession hands the most recent matching session back to the caller
// and consumes it: the record is removed once resumed.
func (s *Server) resumeSession(c echo.Context) error {
	var req resumeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid resume payload"))
	}
	ctx := c.Request().Context()
	filter := session.Filter{Tenant: req.Tenant, Team: req.Team, User: req.User}

	record, err := s.sessions.Find(ctx, filter)
	if err != nil {
		return s.internalError(c, "find session", err)
	}
	if record == nil {
		return c.JSON(http.StatusNotFound, errorBody(session.ErrNotFound.Error()))
	}
	if err := s.sessions.Remove(ctx, record.Key); err != nil {
		return s.internalError(c, "remove session", err)
	}
	return c.JSON(http.StatusOK, record)
}

type packListResponse struct {
	Packs       []pack.Entry `json:"packs"`
	MatchedKeys []string     `json:"matched_keys"`
	MissingKeys []string     `json:"missing_keys"`
}

func (s *Server) listPacks(c echo.Context) error {
	index := s.proxy.Snapshot()
	matched, matchedKeys, missingKeys := index.ResolveFor(
		c.QueryParam("tenant"), c.QueryParam("team"), c.QueryParam("user"))
	resp := packListResponse{Packs: matched, MatchedKeys: matchedKeys, MissingKeys: missingKeys}
	if resp.Packs == nil {
		resp.Packs = []pack.Entry{}
	}
	if resp.MatchedKeys == nil {
		resp.MatchedKeys = []string{}
	}
	if resp.MissingKeys == nil {
		resp.MissingKeys = []string{}
	}
	return c.JSON(http.StatusOK, resp)
}

type reloadResponse struct {
	PackCount int `json:"pack_count"`
}

func (s *Server) reloadPacks(c echo.Context) error {
	index, err := pack.BuildIndex(s.cfg.Packs.Root)
	if err != nil {
		return s.internalError(c, "rebuild pack index", err)
	}
	s.proxy.Submit(runnerproxy.ReloadIndex{
		Index: index,
		Defaults: runnerproxy.Defaults{
			Tenant: s.cfg.Defaults.Tenant,
			Team:   s.cfg.Defaults.Team,
		},
	})
	return c.JSON(http.StatusOK, reloadResponse{PackCount: len(index.Entries)})
}

func (s *Server) listRunnerEvents(c echo.Context) error {
	events := s.proxy.Events()
	if events == nil {
		events = []runnerproxy.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) clearRunnerEvents(c echo.Context) error {
	s.proxy.Submit(runnerproxy.ClearEvents{})
	return c.NoContent(http.StatusNoContent)
}

type emitRequest struct {
	Flow    string `json:"flow"`
	Tenant  string `json:"tenant,omitempty"`
	Team    string `json:"team,omitempty"`
	User    string `json:"user,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

func (s *Server) runnerEmit(c echo.Context) error {
	var req emitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid emit payload"))
	}
	if req.Flow == "" {
		return c.JSON(http.StatusBadRequest, errorBody("flow is required"))
	}
	s.proxy.Submit(runnerproxy.EmitActivity{
		Flow:    req.Flow,
		Tenant:  req.Tenant,
		Team:    req.Team,
		User:    req.User,
		Payload: req.Payload,
	})
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) internalError(c echo.Context, op string, err error) error {
	s.logger.Error(op+" failed", "error", err)
	return c.JSON(http.StatusInternalServerError, errorBody(op+" failed"))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
