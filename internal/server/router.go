package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/twag/internal/tags"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const sessionKeyContextKey = "twag_session_key"

var (
	errMissingResolver   = errors.New("tap resolver dependency required")
	errMissingCacheStore = errors.New("cache store dependency required")
	errMissingTokens     = errors.New("session token issuer dependency required")
)

// TapResolver runs the tap resolution pipeline.
type TapResolver interface {
	ResolveTap(ctx context.Context, sessionKey, rawSlug string) (tags.Resolution, error)
}

// TagCache is the slice of the cache store the creation scaffold needs.
type TagCache interface {
	Get(ctx context.Context, id tags.TagID) (*tags.TagCacheEntry, error)
	Upsert(ctx context.Context, entry tags.TagCacheEntry) error
}

// SessionTokens mints and validates the session cookie value.
type SessionTokens interface {
	Issue() (token string, subject string, err error)
	Validate(token string) (subject string, err error)
}

// Dependencies wires the HTTP layer to its collaborators.
type Dependencies struct {
	Resolver   TapResolver
	Cache      TagCache
	Tokens     SessionTokens
	CookieName string
	Logger     *zap.Logger
}

// NewHTTPHandler builds the gin router for the tap resolution service.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}
	if deps.Cache == nil {
		return nil, errMissingCacheStore
	}
	if deps.Tokens == nil {
		return nil, errMissingTokens
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cookieName := deps.CookieName
	if cookieName == "" {
		cookieName = "twag_session"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		resolver:   deps.Resolver,
		cache:      deps.Cache,
		tokens:     deps.Tokens,
		cookieName: cookieName,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/tag/create", handler.handleCreateScaffold)
	router.POST("/tag/create", handler.handleCreate)
	router.GET("/tag/:slug", handler.withSession, handler.handleTap)

	return router, nil
}

type httpHandler struct {
	resolver   TapResolver
	cache      TagCache
	tokens     SessionTokens
	cookieName string
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// withSession attaches a session key to the request, minting a fresh signed
// cookie when none (or an invalid one) is presented. The tap path never
// fails on session trouble; a tap without a usable session just cannot
// participate in a move sequence.
func (h *httpHandler) withSession(c *gin.Context) {
	if cookie, err := c.Cookie(h.cookieName); err == nil {
		if subject, err := h.tokens.Validate(cookie); err == nil {
			c.Set(sessionKeyContextKey, subject)
			c.Next()
			return
		}
	}

	token, subject, err := h.tokens.Issue()
	if err != nil {
		h.logger.Warn("session token issue failed", zap.Error(err))
		c.Next()
		return
	}
	c.SetCookie(h.cookieName, token, int((24 * time.Hour).Seconds()), "/", "", false, true)
	c.Set(sessionKeyContextKey, subject)
	c.Next()
}

func (h *httpHandler) handleTap(c *gin.Context) {
	sessionKey := c.GetString(sessionKeyContextKey)
	slug := c.Param("slug")

	resolution, err := h.resolver.ResolveTap(c.Request.Context(), sessionKey, slug)
	if err != nil {
		if errors.Is(err, tags.ErrMalformedTap) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_tap"})
			return
		}
		h.logger.Error("tap resolution failed", zap.String("slug", slug), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolution_failed"})
		return
	}

	switch resolution.Action {
	case tags.ActionAcknowledge:
		c.String(http.StatusOK, acknowledgmentLine(resolution.Ack))
	case tags.ActionRedirect:
		c.Redirect(http.StatusFound, resolution.TargetURL)
	default:
		c.Redirect(http.StatusTemporaryRedirect, createURL(resolution.TagID, resolution.Counter))
	}
}

// acknowledgmentLine keeps mutation feedback to a single actionable line.
// A failed or delayed mutation never blocks the response; the next tap
// sequence starts clean.
func acknowledgmentLine(ack *tags.MutationAck) string {
	if ack == nil {
		return "Nothing to update."
	}
	switch {
	case ack.Delayed:
		return "Update may be delayed - check the item in a minute."
	case ack.Err != nil:
		return "The link could not be updated - tap the sequence again."
	case ack.Intent.Kind == tags.MutationRevertContainer:
		return "Move undone."
	default:
		return "Moved!"
	}
}

func createURL(id tags.TagID, counter *tags.TapCounter) string {
	if counter != nil {
		return fmt.Sprintf("/tag/create?id=%s&tap_count=%d", id, *counter)
	}
	return fmt.Sprintf("/tag/create?id=%s", id)
}

var createTemplate = template.Must(template.New("tag_create").Parse(`<!DOCTYPE html>
<html>
<head><title>Register tag {{.ID}}</title></head>
<body>
<h1>Register tag {{.ID}}</h1>
<form method="post" action="/tag/create?id={{.ID}}{{if .TapCount}}&amp;tap_count={{.TapCount}}{{end}}">
<label>Target URL <input type="url" name="target_url" required></label>
<button type="submit">Create</button>
</form>
</body>
</html>
`))

type createPageData struct {
	ID       string
	TapCount string
}

func (h *httpHandler) handleCreateScaffold(c *gin.Context) {
	id, err := tags.ParseTagID(c.Query("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tag_id"})
		return
	}

	// An already-registered tag has nothing to scaffold; send the visitor on.
	if entry, err := h.cache.Get(c.Request.Context(), id); err == nil && entry != nil {
		c.Redirect(http.StatusFound, entry.TargetURL)
		return
	}

	data := createPageData{ID: id.String(), TapCount: c.Query("tap_count")}
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := createTemplate.Execute(c.Writer, data); err != nil {
		h.logger.Warn("scaffold render failed", zap.Error(err))
	}
}

func (h *httpHandler) handleCreate(c *gin.Context) {
	id, err := tags.ParseTagID(c.Query("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tag_id"})
		return
	}

	targetURL := strings.TrimSpace(c.PostForm("target_url"))
	if targetURL == "" {
		targetURL = strings.TrimSpace(c.Query("target_url"))
	}
	if targetURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_target_url"})
		return
	}
	if parsed, err := url.Parse(targetURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_target_url"})
		return
	}

	entry := tags.TagCacheEntry{
		ID:        id,
		TargetURL: targetURL,
	}
	if rawCount := c.Query("tap_count"); rawCount != "" {
		if count, err := strconv.ParseUint(rawCount, 10, 32); err == nil {
			seen := int64(count)
			entry.LastSeenTapCount = &seen
			entry.AccessCount = seen
		}
	}

	if err := h.cache.Upsert(c.Request.Context(), entry); err != nil {
		h.logger.Error("tag creation failed", zap.String("tag_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	h.logger.Info("tag created", zap.String("tag_id", id.String()), zap.String("target_url", targetURL))
	c.String(http.StatusCreated, "Created!")
}
