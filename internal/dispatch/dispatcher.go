// Package dispatch resolves credentials for a matched comment event
// and delivers the public reply and private message, with the two
// channels isolated from each other's failures.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/replyrelay/internal/graph"
	"github.com/replyrelay/internal/model"
	"github.com/replyrelay/internal/reply"
	"github.com/replyrelay/internal/store"
)

// Built-in templates used when neither the rule nor the automation
// defaults supply any.
var (
	defaultCommentReplies = []string{"Thanks for reaching out about {{keyword}}!"}
	defaultDMReplies      = []string{"Here's the link you asked for: {{resourceUrl}}"}
)

// ChannelStatus is the per-channel delivery result.
type ChannelStatus string

const (
	StatusOK      ChannelStatus = "ok"
	StatusFailed  ChannelStatus = "failed"
	StatusSkipped ChannelStatus = "skipped"
)

// Skip and failure reasons recorded in ChannelResult.Reason.
const (
	ReasonNoUser          = "no_user"
	ReasonNoCredential    = "no_credential"
	ReasonNoTemplate      = "no_template"
	ReasonNetwork         = "network"
	ReasonInvalidResponse = "invalid_response"
)

// ChannelResult is the outcome of one outbound channel.
type ChannelResult struct {
	Status ChannelStatus
	Reason string
	Err    error
}

// Outcome reports both channels of one dispatch. The channels are
// independent; each carries its own result.
type Outcome struct {
	PublicReply    ChannelResult
	PrivateMessage ChannelResult
}

// Sender is the outbound Graph surface the dispatcher needs.
type Sender interface {
	SendPublicReply(ctx context.Context, commentID, message, accessToken string) error
	SendPrivateMessage(ctx context.Context, userID, message, accessToken string) error
}

// Dispatcher runs the reply-dispatch pipeline for matched events.
type Dispatcher struct {
	creds    store.CredentialStore
	defaults store.AutomationStore
	composer *reply.Composer
	sender   Sender
}

// NewDispatcher wires the pipeline's collaborators together.
func NewDispatcher(creds store.CredentialStore, defaults store.AutomationStore, composer *reply.Composer, sender Sender) *Dispatcher {
	return &Dispatcher{creds: creds, defaults: defaults, composer: composer, sender: sender}
}

// Dispatch resolves the routing key and credential for the event,
// composes both messages, and issues the two outbound calls
// concurrently. A failure on one channel never prevents the other.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.CommentEvent, rule model.Rule) Outcome {
	pageID := d.resolveRoutingKey(ctx, ev)

	cred, err := d.creds.Resolve(ctx, pageID)
	if err != nil {
		log.Error().Err(err).
			Str("entry_id", ev.EntryID).
			Str("page_id", pageID).
			Str("source", string(ev.Source)).
			Msg("No credential available for webhook entry")
		return Outcome{
			PublicReply:    ChannelResult{Status: StatusFailed, Reason: ReasonNoCredential, Err: err},
			PrivateMessage: ChannelResult{Status: StatusSkipped, Reason: ReasonNoCredential},
		}
	}

	commentTemplates, dmTemplates, resourceURL := d.templatesFor(ctx, rule)

	// Compose both texts before fanning out, so a template failure is
	// recorded per channel instead of reaching the outbound client.
	commentText, commentErr := d.composer.Personalize(commentTemplates, rule.Keyword, resourceURL)
	dmText, dmErr := d.composer.Personalize(dmTemplates, rule.Keyword, resourceURL)

	var (
		outcome Outcome
		wg      sync.WaitGroup
	)

	if commentErr != nil {
		outcome.PublicReply = ChannelResult{Status: StatusFailed, Reason: ReasonNoTemplate, Err: commentErr}
		log.Error().Err(commentErr).
			Str("comment_id", ev.CommentID).
			Msg("No public reply template available")
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendErr := d.sender.SendPublicReply(ctx, ev.CommentID, commentText, cred.AccessToken)
			outcome.PublicReply = resultFor(sendErr)
			if sendErr != nil {
				log.Error().Err(sendErr).
					Str("comment_id", ev.CommentID).
					Str("source", string(ev.Source)).
					Msg("Failed to send public reply")
			}
		}()
	}

	switch {
	case ev.AuthorUserID == "":
		outcome.PrivateMessage = ChannelResult{Status: StatusSkipped, Reason: ReasonNoUser}
	case dmErr != nil:
		outcome.PrivateMessage = ChannelResult{Status: StatusFailed, Reason: ReasonNoTemplate, Err: dmErr}
		log.Error().Err(dmErr).
			Str("user_id", ev.AuthorUserID).
			Msg("No private message template available")
	default:
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendErr := d.sender.SendPrivateMessage(ctx, ev.AuthorUserID, dmText, cred.AccessToken)
			outcome.PrivateMessage = resultFor(sendErr)
			if sendErr != nil {
				log.Error().Err(sendErr).
					Str("user_id", ev.AuthorUserID).
					Str("source", string(ev.Source)).
					Msg("Failed to send private message")
			}
		}()
	}

	wg.Wait()
	return outcome
}

// resolveRoutingKey prefers the reverse account-to-page mapping and
// falls back to the event's own entry id.
func (d *Dispatcher) resolveRoutingKey(ctx context.Context, ev model.CommentEvent) string {
	pageID, err := d.creds.PageForAccount(ctx, ev.EntryID)
	if err == nil && pageID != "" {
		return pageID
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Str("entry_id", ev.EntryID).Msg("Account reverse lookup failed")
	}
	return ev.EntryID
}

// templatesFor layers the rule's own templates over the automation
// defaults, with hard-coded built-ins at the bottom.
func (d *Dispatcher) templatesFor(ctx context.Context, rule model.Rule) (comment, dm []string, resourceURL string) {
	comment = rule.CommentReplies
	dm = rule.DMReplies
	resourceURL = rule.ResourceURL

	if len(comment) == 0 || len(dm) == 0 || resourceURL == "" {
		defaults, err := d.defaults.Automations(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Automation defaults unavailable, using built-ins")
		} else {
			if len(comment) == 0 {
				comment = defaults.CommentReplies
			}
			if len(dm) == 0 {
				dm = defaults.DMReplies
			}
			if resourceURL == "" {
				resourceURL = defaults.ResourceURL
			}
		}
	}

	if len(comment) == 0 {
		comment = defaultCommentReplies
	}
	if len(dm) == 0 {
		dm = defaultDMReplies
	}
	return comment, dm, resourceURL
}

func resultFor(err error) ChannelResult {
	if err == nil {
		return ChannelResult{Status: StatusOK}
	}
	var httpErr *graph.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return ChannelResult{Status: StatusFailed, Reason: fmt.Sprintf("http_%d", httpErr.Status), Err: err}
	case errors.Is(err, graph.ErrInvalidResponse):
		return ChannelResult{Status: StatusFailed, Reason: ReasonInvalidResponse, Err: err}
	case errors.Is(err, graph.ErrNetwork):
		return ChannelResult{Status: StatusFailed, Reason: ReasonNetwork, Err: err}
	default:
		return ChannelResult{Status: StatusFailed, Reason: "error", Err: err}
	}
}
