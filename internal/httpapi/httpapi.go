// Package httpapi implements the thin HTTP surface over the belief-graph
// engine (spec.md §6). The teacher never builds an HTTP server of its
// own — its only network surface is an MCP stdio transport — so this
// package is grounded on the other_examples/eiondb-eion reference file's
// gin + gin-contrib/cors memory-service handler shape instead.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/memory-engine/internal/embedding"
	apperrors "github.com/rohankatakam/memory-engine/internal/errors"
	"github.com/rohankatakam/memory-engine/internal/exposure"
	"github.com/rohankatakam/memory-engine/internal/models"
	"github.com/rohankatakam/memory-engine/internal/resolution"
	"github.com/rohankatakam/memory-engine/internal/storage"
	"github.com/rohankatakam/memory-engine/internal/vectorindex"
	"github.com/rohankatakam/memory-engine/internal/writepipeline"
	"github.com/rohankatakam/memory-engine/internal/zone"
)

const maxBodyBytes = 50 * 1024

// Server bundles the core collaborators each handler adapts requests to.
type Server struct {
	store    storage.Store
	pipeline *writepipeline.Pipeline
	checker  *exposure.Checker
	zones    *zone.Builder
	resolver *resolution.Cascade
	content  *vectorindex.Index
	embedder embedding.Embedder
	log      *logrus.Logger
}

// New builds the gin router with every route in spec.md §6 wired to its
// handler, CORS, request-ID injection and body-size limiting applied.
func New(store storage.Store, pipeline *writepipeline.Pipeline, checker *exposure.Checker, zones *zone.Builder, resolver *resolution.Cascade, content *vectorindex.Index, embedder embedding.Embedder, allowedOrigins []string) *gin.Engine {
	s := &Server{store: store, pipeline: pipeline, checker: checker, zones: zones, resolver: resolver, content: content, embedder: embedder, log: logrus.StandardLogger()}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(bodySizeLimit(maxBodyBytes))
	r.Use(accessLog(s.log))

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowedOrigins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-Request-ID")
	r.Use(cors.New(corsConfig))

	r.POST("/observe", s.handleObserve)
	r.POST("/assume", s.handleAssume)
	r.POST("/confirm/:id", s.handleConfirm)
	r.POST("/violate/:id", s.handleViolate)
	r.POST("/retract/:id", s.handleRetract)
	r.POST("/resolve/:id", s.handleResolve)
	r.POST("/update", s.handleUpdate)

	r.POST("/find", s.handleFind)
	r.GET("/recall/:id", s.handleRecall)
	r.GET("/reference/:id", s.handleReference)
	r.GET("/between", s.handleBetween)
	r.GET("/roots/:id", s.handleRoots)
	r.GET("/brittle", s.handleBrittle)
	r.GET("/collisions", s.handleCollisions)
	r.GET("/stats", s.handleStats)
	r.GET("/history/:id", s.handleHistory)
	r.GET("/history/:id/version/:n", s.handleHistoryVersion)
	r.GET("/access-log/:id", s.handleAccessLog)
	r.GET("/zone/:id", s.handleZone)

	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func bodySizeLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}

func accessLog(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
			"request_id": c.GetString("request_id"),
		}).Info("request handled")
	}
}

// writeError translates an error's Kind (spec.md §7) to the HTTP status
// table in spec.md §6.
func writeError(c *gin.Context, err error) {
	kind := apperrors.GetKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindSemanticGuard:
		status = http.StatusUnprocessableEntity
	case apperrors.KindConflict:
		status = http.StatusConflict
	case apperrors.KindDependency:
		status = http.StatusServiceUnavailable
	case apperrors.KindInternal:
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type observeRequest struct {
	Content          string     `json:"content"`
	Source           *string    `json:"source"`
	DerivedFrom      []string   `json:"derived_from"`
	InvalidatesIf    []string   `json:"invalidates_if"`
	ConfirmsIf       []string   `json:"confirms_if"`
	Assumes          []string   `json:"assumes"`
	ResolvesBy       *time.Time `json:"resolves_by"`
	OutcomeCondition *string    `json:"outcome_condition"`
	Tags             []string   `json:"tags"`
	SessionID        string     `json:"session_id"`
	AgentID          string     `json:"agent_id"`
}

func (s *Server) handleObserve(c *gin.Context) {
	var req observeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.ValidationError(err.Error()))
		return
	}

	result, err := s.pipeline.Observe(c.Request.Context(), writepipeline.ObserveInput{
		Content:          req.Content,
		Source:           req.Source,
		DerivedFrom:      req.DerivedFrom,
		InvalidatesIf:    req.InvalidatesIf,
		ConfirmsIf:       req.ConfirmsIf,
		Assumes:          req.Assumes,
		ResolvesBy:       req.ResolvesBy,
		OutcomeCondition: req.OutcomeCondition,
		Tags:             req.Tags,
		SessionID:        req.SessionID,
		RequestID:        c.GetString("request_id"),
		AgentID:          req.AgentID,
	})
	if err != nil && result == nil {
		writeError(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusAccepted, gin.H{"id": result.ID, "status": result.Status, "warning": "exposure pipeline deferred: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": result.ID, "status": result.Status, "warnings": result.Warnings})
}

// handleAssume is the thought-ingestion counterpart of /observe and runs
// the same handler, so a body carrying source is accepted here too;
// nothing on this route requires derived_from.
func (s *Server) handleAssume(c *gin.Context) {
	s.handleObserve(c)
}

func (s *Server) handleConfirm(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.AppendConfirmation(c.Request.Context(), id); err != nil {
		writeError(c, apperrors.DependencyError(err, "append confirmation"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "confirmed"})
}

func (s *Server) handleViolate(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Condition string `json:"condition"`
	}
	_ = c.ShouldBindJSON(&body)

	centrality, err := s.store.AppendViolation(c.Request.Context(), id, models.Violation{
		Condition:  body.Condition,
		ObservedAt: time.Now().UTC(),
	})
	if err != nil {
		writeError(c, apperrors.DependencyError(err, "append violation"))
		return
	}
	damage := models.DamagePeripheral
	if centrality >= 5 {
		damage = models.DamageCore
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "violated", "damage_level": damage})
}

func (s *Server) handleRetract(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)

	if err := s.store.RetractMemory(c.Request.Context(), id, body.Reason); err != nil {
		writeError(c, apperrors.DependencyError(err, "retract memory"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "retracted"})
}

func (s *Server) handleResolve(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Outcome   models.Outcome `json:"outcome"`
		SessionID string         `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperrors.ValidationError(err.Error()))
		return
	}

	if err := s.resolver.Resolve(c.Request.Context(), id, body.Outcome, body.SessionID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "resolved", "outcome": body.Outcome})
}

func (s *Server) handleUpdate(c *gin.Context) {
	var body struct {
		MemoryID  string `json:"memory_id"`
		Content   string `json:"content"`
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperrors.ValidationError(err.Error()))
		return
	}

	if err := s.pipeline.Update(c.Request.Context(), body.MemoryID, body.Content, body.SessionID, c.GetString("request_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": body.MemoryID, "status": "updated"})
}

func (s *Server) handleFind(c *gin.Context) {
	var body struct {
		Query         string  `json:"query"`
		Limit         int     `json:"limit"`
		MinSimilarity float64 `json:"min_similarity"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperrors.ValidationError(err.Error()))
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		writeError(c, apperrors.ValidationError("query must not be empty"))
		return
	}
	if s.embedder == nil || s.content == nil {
		writeError(c, apperrors.New(apperrors.KindDependency, apperrors.SeverityHigh, "no embedding backend configured"))
		return
	}
	limit := body.Limit
	if limit <= 0 {
		limit = 10
	}

	vec, err := s.embedder.Embed(c.Request.Context(), body.Query)
	if err != nil {
		writeError(c, apperrors.DependencyError(err, "embed find query"))
		return
	}
	matches, err := s.content.Query(c.Request.Context(), vec, uint64(limit), float32(body.MinSimilarity))
	if err != nil {
		writeError(c, apperrors.DependencyError(err, "query content index"))
		return
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	memories, err := s.store.GetMemories(c.Request.Context(), ids)
	if err != nil {
		writeError(c, apperrors.DependencyError(err, "load matched memories"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"query": body.Query, "memories": memories, "matches": matches})
}

func (s *Server) handleRecall(c *gin.Context) {
	id := c.Param("id")
	m, err := s.store.GetMemory(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(c, apperrors.NotFoundErrorf("memory %s not found", id))
		return
	}
	if err != nil {
		writeError(c, apperrors.DependencyError(err, "load memory"))
		return
	}
	s.recordAccess(c, id, "recall")
	c.JSON(http.StatusOK, m)
}

func (s *Server) recordAccess(c *gin.Context, id, accessType string) {
	evt := &models.AccessEvent{EntityID: id, AccessType: accessType, CreatedAt: time.Now().UTC()}
	_ = s.store.InsertAccessEvent(c.Request.Context(), evt)
}

func (s *Server) handleReference(c *gin.Context) {
	id := c.Param("id")
	direction := c.DefaultQuery("direction", "both")
	depth, _ := strconv.Atoi(c.DefaultQuery("depth", "1"))
	if depth <= 0 {
		depth = 1
	}

	types := []models.EdgeType{models.EdgeDerivedFrom, models.EdgeConfirmedBy}
	ids := []string{id}
	var all []*models.Edge

	for d := 0; d < depth; d++ {
		if direction == "down" || direction == "both" {
			out, err := s.store.EdgesFrom(c.Request.Context(), ids, types)
			if err != nil {
				writeError(c, apperrors.DependencyError(err, "load reference edges"))
				return
			}
			all = append(all, out...)
		}
		if direction == "up" || direction == "both" {
			in, err := s.store.EdgesTo(c.Request.Context(), ids, types)
			if err != nil {
				writeError(c, apperrors.DependencyError(err, "load reference edges"))
				return
			}
			all = append(all, in...)
		}
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "edges": all})
}

func (s *Server) handleBetween(c *gin.Context) {
	idsParam := c.Query("ids")
	if idsParam == "" {
		writeError(c, apperrors.ValidationError("ids query parameter is required"))
		return
	}
	ids := strings.Split(idsParam, ",")

	out, err := s.store.EdgesFrom(c.Request.Context(), ids, nil)
	if err != nil {
		writeError(c, apperrors.DependencyError(err, "load edges between"))
		return
	}

	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	var between []*models.Edge
	for _, e := range out {
		if present[e.TargetID] {
			between = append(between, e)
		}
	}
	c.JSON(http.StatusOK, gin.H{"edges": between})
}

func (s *Server) handleRoots(c *gin.Context) {
	id := c.Param("id")
	visited := map[string]bool{id: true}
	frontier := []string{id}
	var roots []string

	for len(frontier) > 0 {
		edges, err := s.store.EdgesTo(c.Request.Context(), frontier, []models.EdgeType{models.EdgeDerivedFrom})
		if err != nil {
			writeError(c, apperrors.DependencyError(err, "walk derivation roots"))
			return
		}
		childToParents := make(map[string][]string)
		for _, e := range edges {
			childToParents[e.TargetID] = append(childToParents[e.TargetID], e.SourceID)
		}

		var next []string
		for _, fid := range frontier {
			parents := childToParents[fid]
			if len(parents) == 0 {
				roots = append(roots, fid)
				continue
			}
			for _, p := range parents {
				if !visited[p] {
					visited[p] = true
					next = append(next, p)
				}
			}
		}
		frontier = next
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "roots": roots})
}

func (s *Server) handleBrittle(c *gin.Context) {
	maxTested, _ := strconv.Atoi(c.DefaultQuery("max_times_tested", "0"))
	minConfidence, _ := strconv.ParseFloat(c.DefaultQuery("min_confidence", "0"), 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	all, err := s.store.ListMemories(c.Request.Context(), "")
	if err != nil {
		writeError(c, apperrors.DependencyError(err, "list memories"))
		return
	}

	var brittle []*models.Memory
	for _, m := range all {
		if m.TimesTested <= maxTested && m.EffectiveConfidence() >= minConfidence {
			brittle = append(brittle, m)
			if len(brittle) >= limit {
				break
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"memories": brittle})
}

func (s *Server) handleCollisions(c *gin.Context) {
	all, err := s.store.ListMemories(c.Request.Context(), "")
	if err != nil {
		writeError(c, apperrors.DependencyError(err, "list memories"))
		return
	}
	var collisions []*models.Memory
	for _, m := range all {
		if m.Contradictions > 0 && m.Confirmations > 0 {
			collisions = append(collisions, m)
		}
	}
	c.JSON(http.StatusOK, gin.H{"memories": collisions})
}

func (s *Server) handleStats(c *gin.Context) {
	stat, err := s.store.GetSystemStat(c.Request.Context(), "max_times_tested")
	if err != nil {
		writeError(c, apperrors.DependencyError(err, "load system stats"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"max_times_tested": stat})
}

func (s *Server) handleHistory(c *gin.Context) {
	id := c.Param("id")
	versions, err := s.store.ListVersions(c.Request.Context(), id)
	if err != nil {
		writeError(c, apperrors.DependencyError(err, "load history"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "versions": versions})
}

func (s *Server) handleHistoryVersion(c *gin.Context) {
	id := c.Param("id")
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		writeError(c, apperrors.ValidationError("version number must be an integer"))
		return
	}
	versions, err := s.store.ListVersions(c.Request.Context(), id)
	if err != nil {
		writeError(c, apperrors.DependencyError(err, "load history"))
		return
	}
	for _, v := range versions {
		if v.VersionNumber == n {
			c.JSON(http.StatusOK, v)
			return
		}
	}
	writeError(c, apperrors.NotFoundErrorf("version %d of memory %s not found", n, id))
}

func (s *Server) handleAccessLog(c *gin.Context) {
	id := c.Param("id")
	events, err := s.store.ListAccessEvents(c.Request.Context(), id)
	if err != nil {
		writeError(c, apperrors.DependencyError(err, "load access log"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "access_events": events})
}

func (s *Server) handleZone(c *gin.Context) {
	id := c.Param("id")
	query := c.Query("query")

	report, err := s.zones.Build(c.Request.Context(), id, query, 2, 5)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
