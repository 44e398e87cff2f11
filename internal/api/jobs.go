package api

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/spigell/job-pilot/internal/applications"
	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/jobs"
)

const maxListLimit = 500

type ingestRequest struct {
	URL string `json:"url" binding:"required"`
}

type coverLetterRequest struct {
	Variant string `json:"variant"`
}

type advanceRequest struct {
	Status applications.Status `json:"status" binding:"required"`
}

// async reports whether the caller asked for the operation to be queued.
func (s *Server) async(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("async"))
	return v && s.deps.Queue != nil
}

func (s *Server) ingestJob(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "url is required")
		return
	}
	job, err := s.deps.Ingester.IngestURL(c.Request.Context(), req.URL)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, job)
}

func (s *Server) discover(c *gin.Context) {
	ctx := c.Request.Context()
	if s.async(c) || s.deps.Discovery == nil {
		if s.deps.Queue == nil {
			s.fail(c, apperr.NotReady("discovery is not configured"))
			return
		}
		id, err := s.deps.Queue.Discover(ctx)
		if err != nil {
			s.fail(c, err)
			return
		}
		accepted(c, gin.H{"task_id": id})
		return
	}
	if err := s.deps.Discovery.Start(ctx); err != nil {
		s.fail(c, err)
		return
	}
	accepted(c, gin.H{"status": "started"})
}

func (s *Server) discoveryStatus(c *gin.Context) {
	if s.deps.Discovery == nil {
		s.fail(c, apperr.NotReady("discovery is not configured"))
		return
	}
	st, err := s.deps.Discovery.Status(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, st)
}

func (s *Server) listJobs(c *gin.Context) {
	f := jobs.Filter{}
	for _, raw := range c.QueryArray("status") {
		for _, v := range strings.Split(raw, ",") {
			st := jobs.Status(strings.TrimSpace(v))
			if !st.Valid() {
				badRequest(c, "unknown status "+string(st))
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := c.Query("min_score"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 100 {
			badRequest(c, "min_score must be between 0 and 100")
			return
		}
		f.MinScore = &n
	}
	f.IncludeFiltered, _ = strconv.ParseBool(c.Query("all"))

	limit := maxListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be positive")
			return
		}
		limit = min(n, maxListLimit)
	}

	out := make([]*jobs.Job, 0)
	for job, err := range s.deps.Jobs.List(c.Request.Context(), f) {
		if err != nil {
			s.fail(c, err)
			return
		}
		out = append(out, job)
		if len(out) == limit {
			break
		}
	}
	ok(c, out)
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.deps.Jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, job)
}

func (s *Server) transition(action jobs.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := s.deps.Jobs.Transition(c.Request.Context(), c.Param("id"), action)
		if err != nil {
			s.fail(c, err)
			return
		}
		ok(c, job)
	}
}

func (s *Server) scoreJob(c *gin.Context) {
	ctx := c.Request.Context()
	if s.async(c) {
		id, err := s.deps.Queue.ScoreJob(ctx, c.Param("id"))
		if err != nil {
			s.fail(c, err)
			return
		}
		accepted(c, gin.H{"task_id": id})
		return
	}
	job, err := s.deps.Scorer.ScoreJob(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, job)
}

func (s *Server) captureDetails(c *gin.Context) {
	job, err := s.deps.Ingester.CaptureDetails(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, job)
}

func (s *Server) tailorCV(c *gin.Context) {
	ctx := c.Request.Context()
	if s.async(c) {
		id, err := s.deps.Queue.TailorCV(ctx, c.Param("id"))
		if err != nil {
			s.fail(c, err)
			return
		}
		accepted(c, gin.H{"task_id": id})
		return
	}
	cv, err := s.deps.Materials.TailorCV(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, cv)
}

func (s *Server) generateCoverLetter(c *gin.Context) {
	var req coverLetterRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	if v := c.Query("variant"); v != "" {
		req.Variant = v
	}

	ctx := c.Request.Context()
	if s.async(c) {
		id, err := s.deps.Queue.CoverLetter(ctx, c.Param("id"), req.Variant)
		if err != nil {
			s.fail(c, err)
			return
		}
		accepted(c, gin.H{"task_id": id})
		return
	}
	letter, err := s.deps.Materials.GenerateCoverLetter(ctx, c.Param("id"), req.Variant)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, letter)
}

func (s *Server) finalize(c *gin.Context) {
	export, err := s.deps.Materials.Finalize(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, export)
}

func (s *Server) materials(c *gin.Context) {
	m, err := s.deps.Materials.Materials(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, m)
}

func (s *Server) listApplications(c *gin.Context) {
	var statuses []applications.Status
	for _, v := range c.QueryArray("status") {
		st := applications.Status(v)
		if !st.Valid() {
			badRequest(c, "unknown status "+v)
			return
		}
		statuses = append(statuses, st)
	}
	records, err := s.deps.Applications.List(c.Request.Context(), statuses...)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, records)
}

func (s *Server) advanceApplication(c *gin.Context) {
	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}
	record, err := s.deps.Applications.Advance(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, record)
}
