package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/replyrelay/internal/model"
	"github.com/replyrelay/internal/store"
)

// saveKeywordRequest is the admin payload for rule upserts.
type saveKeywordRequest struct {
	Scope          string   `json:"scope"`
	PostID         string   `json:"postId"`
	Keyword        string   `json:"keyword"`
	Variants       []string `json:"variants"`
	CommentReplies []string `json:"commentReplies"`
	DMReplies      []string `json:"dmReplies"`
	ResourceURL    string   `json:"resourceUrl"`
}

func (s *Server) listKeywords(c echo.Context) error {
	catalog, err := s.store.AllRules(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load rule catalog")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load keywords"})
	}
	return c.JSON(http.StatusOK, catalog)
}

func (s *Server) saveKeyword(c echo.Context) error {
	var req saveKeywordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "keyword is required"})
	}

	scope := model.RuleScope(req.Scope)
	if scope == "" {
		scope = model.ScopeGlobal
	}
	if scope == model.ScopePost && req.PostID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "postId is required for post-specific keywords"})
	}
	if scope != model.ScopeGlobal && scope != model.ScopePost {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown scope"})
	}

	rule := model.Rule{
		Keyword:        keyword,
		Variants:       cleanList(req.Variants),
		CommentReplies: cleanList(req.CommentReplies),
		DMReplies:      cleanList(req.DMReplies),
		ResourceURL:    strings.TrimSpace(req.ResourceURL),
	}

	if err := s.store.UpsertRule(c.Request().Context(), scope, req.PostID, rule); err != nil {
		log.Error().Err(err).Str("keyword", rule.Keyword).Msg("Failed to upsert rule")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save keyword"})
	}

	log.Info().Str("scope", string(scope)).Str("post_id", req.PostID).Str("keyword", rule.Keyword).Msg("Upserted keyword")
	return c.JSON(http.StatusOK, map[string]bool{"saved": true})
}

func (s *Server) getAutomations(c echo.Context) error {
	automations, err := s.store.Automations(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load automations")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load automations"})
	}
	return c.JSON(http.StatusOK, automations)
}

func (s *Server) saveAutomations(c echo.Context) error {
	var req model.Automations
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	next := model.Automations{
		CommentReplies: cleanList(req.CommentReplies),
		DMReplies:      cleanList(req.DMReplies),
		ResourceURL:    strings.TrimSpace(req.ResourceURL),
	}
	if err := s.store.SaveAutomations(c.Request().Context(), next); err != nil {
		log.Error().Err(err).Msg("Failed to save automations")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save automations"})
	}
	return c.JSON(http.StatusOK, next)
}

// saveCredentialRequest lets an external OAuth worker push resolved
// page credentials and the account-to-page reverse mapping.
type saveCredentialRequest struct {
	PageID      string `json:"pageId"`
	AccessToken string `json:"accessToken"`
	AccountID   string `json:"accountId"`
}

func (s *Server) saveCredential(c echo.Context) error {
	var req saveCredentialRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.PageID == "" || req.AccessToken == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "pageId and accessToken are required"})
	}

	cred := model.Credential{PageID: req.PageID, AccessToken: req.AccessToken}
	if err := s.store.PutCredential(c.Request().Context(), cred, req.AccountID); err != nil {
		log.Error().Err(err).Str("page_id", req.PageID).Msg("Failed to store credential")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save credential"})
	}
	return c.JSON(http.StatusOK, map[string]bool{"saved": true})
}

func (s *Server) listActivity(c echo.Context) error {
	limit := store.MaxActivityRecords
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= store.MaxActivityRecords {
			limit = parsed
		}
	}

	records, err := s.store.RecentActivity(c.Request().Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load activity log")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load logs"})
	}
	if records == nil {
		records = []model.ActivityRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) getStatus(c echo.Context) error {
	pages, err := s.store.Pages(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list connected pages")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load status"})
	}
	if pages == nil {
		pages = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"connectedPages": pages,
		"webhookReady":   s.verifyToken != "",
	})
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
