package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/spigell/job-pilot/internal/apperr"
)

func (s *Server) assistant(c *gin.Context) (Assistant, bool) {
	if s.deps.Assistant == nil {
		s.fail(c, apperr.NotReady("assistant is not configured"))
		return nil, false
	}
	return s.deps.Assistant, true
}

func (s *Server) launchAssistant(c *gin.Context) {
	a, found := s.assistant(c)
	if !found {
		return
	}
	if err := a.Launch(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	s.assistantStatus(c)
}

func (s *Server) stopAssistant(c *gin.Context) {
	a, found := s.assistant(c)
	if !found {
		return
	}
	if err := a.Stop(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	s.assistantStatus(c)
}

func (s *Server) assistantStatus(c *gin.Context) {
	a, found := s.assistant(c)
	if !found {
		return
	}
	st, err := a.Status(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, st)
}

func (s *Server) captureListings(c *gin.Context) {
	a, found := s.assistant(c)
	if !found {
		return
	}
	report, err := a.Capture(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, report)
}

// apply runs the submission flow. A flow that ends in manual handoff or
// failure is still a completed command: the outcome carries the reason.
func (s *Server) apply(c *gin.Context) {
	a, found := s.assistant(c)
	if !found {
		return
	}
	dryRun := false
	if raw := c.Query("dry_run"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "dry_run must be a boolean")
			return
		}
		dryRun = v
	}

	outcome, err := a.Apply(c.Request.Context(), c.Param("id"), dryRun)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, outcome)
}
