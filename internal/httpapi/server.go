// Package httpapi is the daemon's small operations surface: sync status,
// Prometheus metrics, and manual conflict resolution over HTTP. It is not
// the bridge/editor/preview UI spec.md scopes out (§1) — those consume
// this core's Go API directly — this is an ops surface for a
// headless daemon deployment, grounded on the teacher's pkg/api/server.go
// and pkg/api/middleware.go (gin + gin-contrib/cors) and pkg/auth/jwt.go
// (golang-jwt/v5) patterns.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/khryptorgraphics/corpus-sync/internal/conflict"
	"github.com/khryptorgraphics/corpus-sync/internal/journal"
	"github.com/khryptorgraphics/corpus-sync/internal/record"
	"github.com/khryptorgraphics/corpus-sync/internal/resolve"
	"github.com/khryptorgraphics/corpus-sync/internal/store"
	"github.com/khryptorgraphics/corpus-sync/internal/telemetry"
)

// Config configures the HTTP surface: the CORS policy, the HMAC secret
// used to verify bearer tokens on /status and the conflict routes, and the bcrypt-hashed
// operator credential /login checks before minting one.
type Config struct {
	ListenAddr     string
	JWTSecret      string
	AllowedOrigins []string

	AdminUser         string
	AdminPasswordHash string
	TokenTTL          time.Duration
}

// Server exposes /healthz, /metrics, /status, and conflict resolution
// routes over HTTP.
type Server struct {
	cfg      Config
	local    store.LocalStore
	resolver *resolve.Resolver
	jwt      *jwtVerifier
	logger   *slog.Logger
	engine   *gin.Engine
}

// New builds a Server. A nil logger defaults to slog.Default(). Pass an
// empty Config.JWTSecret to disable auth on /status and the conflict routes (useful for
// local development only). A nil resolver builds one with resolve.Config's
// zero value, sufficient for applying manual decisions (it does not consult
// auto-resolution policy).
func New(cfg Config, local store.LocalStore, resolver *resolve.Resolver, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	if resolver == nil {
		resolver = resolve.New(resolve.Config{})
	}
	s := &Server{
		cfg:      cfg,
		local:    local,
		resolver: resolver,
		jwt:      newJWTVerifier(cfg.JWTSecret),
		logger:   telemetry.Logger(logger),
		engine:   gin.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery(), s.loggingMiddleware(), s.corsMiddleware())

	s.engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.POST("/login", s.handleLogin)

	s.engine.GET("/status", s.requireAuth(), s.handleStatus)
	s.engine.GET("/conflicts/:id", s.requireAuth(), s.handleGetConflict)
	s.engine.POST("/conflicts/:id/resolve", s.requireAuth(), s.handleResolveConflict)
}

// Handler returns the http.Handler this server serves, for callers that
// want to run it behind their own http.Server/TLS listener.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(p gin.LogFormatterParams) string {
		s.logger.Info("httpapi request", "method", p.Method, "path", p.Path, "status", p.StatusCode, "latency", p.Latency)
		return ""
	})
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       time.Hour,
	}
	if len(s.cfg.AllowedOrigins) == 0 || (len(s.cfg.AllowedOrigins) == 1 && s.cfg.AllowedOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.cfg.AllowedOrigins
	}
	return cors.New(cfg)
}

func (s *Server) handleStatus(c *gin.Context) {
	var st store.SyncState
	if err := s.local.Read(c.Request.Context(), func(tx store.Tx) error {
		got, err := tx.GetSyncState()
		st = got
		return err
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleGetConflict(c *gin.Context) {
	id := c.Param("id")
	var pc store.PendingConflict
	var found bool
	if err := s.local.Read(c.Request.Context(), func(tx store.Tx) error {
		got, ok, err := tx.GetPendingConflict(id)
		pc, found = got, ok
		return err
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending conflict for record"})
		return
	}
	c.JSON(http.StatusOK, pc)
}

// resolveRequest carries a per-field choice — resolve.ManualDecision
// surfaced over HTTP — plus optional custom values for fields that need
// neither side's value verbatim.
type resolveRequest struct {
	Choices      map[string]string             `json:"choices"`       // field -> "local"|"remote"|"custom"
	CustomValues map[string]resolveCustomValue `json:"custom_values"` // field -> tagged value, required when choice is "custom"
}

// resolveCustomValue is the wire form of record.Value: exactly one field
// should be set, matching the choice's intended kind (text/int/real/list).
type resolveCustomValue struct {
	Text string   `json:"text,omitempty"`
	Int  int64    `json:"int,omitempty"`
	Real float64  `json:"real,omitempty"`
	List []string `json:"list,omitempty"`
}

func (v resolveCustomValue) toValue() record.Value {
	switch {
	case v.List != nil:
		return record.StringListValue(v.List)
	case v.Int != 0:
		return record.IntValue(v.Int)
	case v.Real != 0:
		return record.RealValue(v.Real)
	default:
		return record.TextValue(v.Text)
	}
}

// loginRequest carries an operator credential checked against
// Config.AdminUser/AdminPasswordHash before a bearer token is issued.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin verifies username/password against the configured bcrypt
// hash (golang.org/x/crypto/bcrypt, matching the teacher's
// pkg/security/security.go CompareHashAndPassword pattern) and, on
// success, signs a bearer token for use against the auth-gated routes. If
// no admin credential is configured, login is disabled — the same
// "auth off when JWTSecret is empty" escape hatch requireAuth already
// uses for local development.
func (s *Server) handleLogin(c *gin.Context) {
	if s.cfg.AdminUser == "" || s.cfg.AdminPasswordHash == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "login is not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Username != s.cfg.AdminUser {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	ttl := s.cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	token, err := s.jwt.Sign(req.Username, ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": int(ttl.Seconds())})
}

func (s *Server) handleResolveConflict(c *gin.Context) {
	id := c.Param("id")
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision := resolve.ManualDecision{
		Choices:      make(map[string]resolve.FieldChoice, len(req.Choices)),
		CustomValues: make(map[string]record.Value, len(req.CustomValues)),
	}
	for field, choice := range req.Choices {
		switch choice {
		case "local":
			decision.Choices[field] = resolve.ChoiceUseLocal
		case "remote":
			decision.Choices[field] = resolve.ChoiceUseRemote
		case "custom":
			decision.Choices[field] = resolve.ChoiceCustom
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown choice for field " + field})
			return
		}
	}
	for field, v := range req.CustomValues {
		decision.CustomValues[field] = v.toValue()
	}

	var entryID string
	err := s.local.Write(c.Request.Context(), func(tx store.Tx) error {
		pc, ok, err := tx.GetPendingConflict(id)
		if err != nil {
			return err
		}
		if !ok {
			return errConflictNotFound
		}

		info := conflict.Info{
			RecordID:   pc.RecordID,
			Local:      &pc.LocalSnap,
			Remote:     &pc.RemoteSnap,
			LocalMeta:  pc.LocalMeta,
			RemoteMeta: pc.RemoteMeta,
			DetectedAt: pc.DetectedAt,
		}
		resolved, rerr := s.resolver.ApplyManual(info, decision)
		if rerr != nil {
			return rerr
		}

		if err := tx.UpsertRecord(resolved.Record); err != nil {
			return err
		}
		if err := tx.UpsertMetadata(resolved.LocalMeta.IncrementForSync(resolved.LocalMeta.DBVersion)); err != nil {
			return err
		}
		if err := tx.DeletePendingConflict(id); err != nil {
			return err
		}
		entryID = id + ":manual"
		return tx.JournalAppend(journal.Entry{
			ID:            id + ":manual",
			RecordID:      id,
			Strategy:      resolved.Strategy,
			WinnerSiteID:  resolved.WinnerSiteID,
			LocalVersion:  resolved.LocalMeta.DBVersion,
			RemoteVersion: resolved.RemoteMeta.DBVersion,
			ResolvedAt:    pc.DetectedAt,
		})
	})
	if err == errConflictNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true, "journal_entry_id": entryID})
}
