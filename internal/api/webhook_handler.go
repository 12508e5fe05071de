package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/replyrelay/internal/dispatch"
	"github.com/replyrelay/internal/event"
	"github.com/replyrelay/internal/matcher"
	"github.com/replyrelay/internal/model"
)

// VerifySubscription is the stateless webhook verification handshake:
// it accepts only a subscribe request carrying the expected token and
// returns the challenge to echo back.
func VerifySubscription(mode, token, challenge, expectedToken string) (string, bool) {
	if mode == "subscribe" && token == expectedToken && expectedToken != "" {
		return challenge, true
	}
	return "", false
}

// VerifyWebhookHandler answers the webhook provider's subscription
// handshake.
func (s *Server) VerifyWebhookHandler(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	body, ok := VerifySubscription(mode, token, challenge, s.verifyToken)
	if !ok {
		log.Warn().Str("mode", mode).Msg("Webhook verification rejected")
		return c.NoContent(http.StatusForbidden)
	}

	log.Info().Msg("Webhook verification accepted")
	return c.Blob(http.StatusOK, "text/plain", []byte(body))
}

// WebhookHandler ingests one webhook delivery. Every change is
// processed independently and fail-open; the provider always sees
// success for well-formed payloads so it never enters a retry storm.
func (s *Server) WebhookHandler(c echo.Context) error {
	var payload event.Payload
	if err := c.Bind(&payload); err != nil {
		log.Error().Err(err).Msg("Failed to parse webhook payload")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid webhook payload",
		})
	}

	deliveryID := uuid.NewString()
	logger := log.With().Str("delivery_id", deliveryID).Str("object", payload.Object).Logger()

	kind, known := event.KindOf(payload.Object)
	if !known {
		logger.Info().Msg("Unhandled webhook object type")
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	}

	if len(payload.Entry) == 0 {
		logger.Info().Msg("Webhook payload missing entries")
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	}

	ctx := c.Request().Context()
	for _, entry := range payload.Entry {
		if len(entry.Changes) == 0 {
			logger.Info().Str("entry_id", entry.ID).Msg("Webhook entry missing changes")
			continue
		}
		entryLogger := logger.With().Str("entry_id", entry.ID).Logger()
		for _, change := range entry.Changes {
			s.processChange(ctx, entryLogger, kind, entry.ID, change)
		}
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

// processChange runs one change through normalize, match, and
// dispatch. Failures are logged and recorded, never propagated.
func (s *Server) processChange(ctx context.Context, logger zerolog.Logger, kind model.SourceKind, entryID string, change event.Change) {
	ev, err := event.Normalize(kind, entryID, change)
	if err != nil {
		logger.Debug().Err(err).Str("field", change.Field).Msg("Discarded webhook change")
		return
	}

	evLogger := logger.With().
		Str("comment_id", ev.CommentID).
		Str("post_id", ev.PostID).
		Str("source", string(ev.Source)).
		Logger()

	ruleSet, err := s.store.RulesForPost(ctx, ev.PostID)
	if err != nil {
		// A broken rule store degrades to "no match found" rather
		// than aborting the delivery.
		evLogger.Error().Err(err).Msg("Rule store lookup failed")
		return
	}

	rule, ok := matcher.FindMatch(ev.Text, ruleSet)
	if !ok {
		evLogger.Debug().Msg("No keyword match found")
		return
	}

	evLogger.Info().Str("keyword", rule.Keyword).Msg("Matched keyword, dispatching replies")
	outcome := s.dispatcher.Dispatch(ctx, ev, rule)
	s.recordActivity(ctx, evLogger, ev, rule.Keyword, outcome)
}

func (s *Server) recordActivity(ctx context.Context, logger zerolog.Logger, ev model.CommentEvent, keyword string, outcome dispatch.Outcome) {
	rec := model.ActivityRecord{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Source:        ev.Source,
		EntryID:       ev.EntryID,
		CommentID:     ev.CommentID,
		PostID:        ev.PostID,
		Keyword:       keyword,
		PublicStatus:  channelSummary(outcome.PublicReply),
		PrivateStatus: channelSummary(outcome.PrivateMessage),
	}
	if err := s.store.AppendActivity(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("Failed to record activity")
	}
}

func channelSummary(result dispatch.ChannelResult) string {
	if result.Reason == "" {
		return string(result.Status)
	}
	return strings.Join([]string{string(result.Status), result.Reason}, ":")
}
