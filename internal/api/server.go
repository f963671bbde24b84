// Package api exposes the policy engine over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/tradepolicy/internal/engine"
	"github.com/samcharles93/tradepolicy/internal/logger"
)

// DefaultMaxChunkBytes caps a single POST /v1/model/bytes body.
const DefaultMaxChunkBytes = 4 << 20

// Engine is the subset of *engine.Engine the server drives.
type Engine interface {
	ClearModelBytes(ctx context.Context) error
	AppendModelBytes(ctx context.Context, chunk []byte) error
	SetupModel(ctx context.Context) error
	GetAction(ctx context.Context, obs []float32) (engine.Decision, error)
	ResetState(ctx context.Context) error
	Status() engine.Status
}

type Options struct {
	// AdminTokenHash is a bcrypt hash. When set, routes that change the
	// model or the state require a matching bearer token.
	AdminTokenHash string
	// RateLimit is the sustained requests per second across all routes;
	// zero disables limiting.
	RateLimit float64
	Burst     int
	// MaxChunkBytes defaults to DefaultMaxChunkBytes.
	MaxChunkBytes int64
	Logger        logger.Logger
}

type Server struct {
	engine Engine
	opts   Options
	log    logger.Logger
}

func NewServer(eng Engine, opts Options) *Server {
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = DefaultMaxChunkBytes
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Server{engine: eng, opts: opts, log: log}
}

// Register wires the routes and middleware onto e.
func (s *Server) Register(e *echo.Echo) {
	e.Use(requestID)
	if s.opts.RateLimit > 0 {
		e.Use(rateLimit(s.opts.RateLimit, s.opts.Burst))
	}
	admin := requireAdmin(s.opts.AdminTokenHash)

	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/model", s.handleGetModel)
	e.DELETE("/v1/model/bytes", s.handleClearBytes, admin)
	e.POST("/v1/model/bytes", s.handleAppendBytes, admin)
	e.POST("/v1/model/setup", s.handleSetup, admin)
	e.POST("/v1/actions", s.handleAction)
	e.POST("/v1/state/reset", s.handleResetState, admin)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleGetModel(c *echo.Context) error {
	st := s.engine.Status()
	return c.JSON(http.StatusOK, ModelResponse{
		Initialized: st.Initialized,
		LedgerBytes: st.LedgerBytes,
		Inputs:      st.Inputs,
		Outputs:     st.Outputs,
		Ops:         st.Ops,
		Steps:       st.Steps,
		Model:       st.Model,
		CompiledAt:  st.CompiledAt,
	})
}

func (s *Server) handleClearBytes(c *echo.Context) error {
	if err := s.engine.ClearModelBytes(c.Request().Context()); err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, LedgerResponse{LedgerBytes: s.engine.Status().LedgerBytes})
}

func (s *Server) handleAppendBytes(c *echo.Context) error {
	req := c.Request()
	chunk, err := io.ReadAll(io.LimitReader(req.Body, s.opts.MaxChunkBytes+1))
	if err != nil {
		return writeBadRequest(c, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(chunk)) > s.opts.MaxChunkBytes {
		return writeError(c, http.StatusRequestEntityTooLarge, "invalid_request_error",
			fmt.Sprintf("chunk exceeds %d bytes", s.opts.MaxChunkBytes))
	}
	index := -1
	if h := req.Header.Get("X-Chunk-Index"); h != "" {
		if index, err = strconv.Atoi(h); err != nil {
			return writeBadRequest(c, "X-Chunk-Index must be an integer")
		}
	}

	if err := s.engine.AppendModelBytes(req.Context(), chunk); err != nil {
		return writeEngineError(c, err)
	}
	total := s.engine.Status().LedgerBytes
	s.log.Debug("chunk received", "chunk_index", index, "bytes", len(chunk), "ledger_bytes", total)
	return c.JSON(http.StatusOK, LedgerResponse{LedgerBytes: total})
}

func (s *Server) handleSetup(c *echo.Context) error {
	if err := s.engine.SetupModel(c.Request().Context()); err != nil {
		return writeEngineError(c, err)
	}
	return s.handleGetModel(c)
}

func (s *Server) handleAction(c *echo.Context) error {
	req, err := decodeJSON[ActionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, fmt.Sprintf("invalid JSON body: %v", err))
	}
	if req.Observation == nil {
		return writeEngineError(c, newInvalidRequest("observation is required"))
	}

	d, err := s.engine.GetAction(c.Request().Context(), req.Observation)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, ActionResponse{
		ID:            newDecisionID(),
		Action:        d.Action,
		ActionIndex:   d.Index,
		Logits:        d.Logits,
		Probabilities: d.Probabilities,
		Value:         d.Value,
		LatencyMS:     float64(d.Duration) / float64(time.Millisecond),
	})
}

func (s *Server) handleResetState(c *echo.Context) error {
	if err := s.engine.ResetState(c.Request().Context()); err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "reset"})
}
