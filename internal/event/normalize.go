// Package event normalizes inbound webhook payloads into canonical
// comment events. Two payload schemas are supported: the instagram
// object shape and the page object shape. Anything else is discarded.
package event

import (
	"errors"
	"fmt"

	"github.com/replyrelay/internal/model"
)

// Payload is the outer webhook POST body.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes delivered for one page or account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is a single field-level notification inside an entry.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries the union of fields the two schemas use. The
// normalizer picks the right ones per source kind.
type ChangeValue struct {
	CommentID string `json:"comment_id"`
	ID        string `json:"id"`
	PostID    string `json:"post_id"`
	MediaID   string `json:"media_id"`
	ParentID  string `json:"parent_id"`
	Item      string `json:"item"`
	Text      string `json:"text"`
	Message   string `json:"message"`
	From      Actor  `json:"from"`
}

// Actor is the author reference attached to a change value.
type Actor struct {
	ID string `json:"id"`
}

// Discard reasons. These are diagnostics, never batch-aborting errors:
// the caller logs them and moves on to the next change.
var (
	ErrNotComment     = errors.New("change is not a comment notification")
	ErrMissingComment = errors.New("change has no resolvable comment id")
	ErrUnknownObject  = errors.New("unknown webhook object kind")
)

// KindOf maps the payload's declared object type onto a source kind.
func KindOf(object string) (model.SourceKind, bool) {
	switch object {
	case "instagram":
		return model.SourceInstagram, true
	case "page":
		return model.SourcePage, true
	default:
		return "", false
	}
}

// Normalize maps one change onto a canonical CommentEvent. A non-nil
// error means the change is discarded; it carries the reason for the
// diagnostic log only.
func Normalize(kind model.SourceKind, entryID string, ch Change) (model.CommentEvent, error) {
	switch kind {
	case model.SourceInstagram:
		return normalizeInstagram(entryID, ch)
	case model.SourcePage:
		return normalizePage(entryID, ch)
	default:
		return model.CommentEvent{}, fmt.Errorf("%w: %q", ErrUnknownObject, kind)
	}
}

func normalizeInstagram(entryID string, ch Change) (model.CommentEvent, error) {
	if ch.Field != "comments" {
		return model.CommentEvent{}, fmt.Errorf("%w: field %q", ErrNotComment, ch.Field)
	}

	ev := model.CommentEvent{
		EntryID:      entryID,
		CommentID:    firstNonEmpty(ch.Value.CommentID, ch.Value.ID),
		PostID:       firstNonEmpty(ch.Value.PostID, ch.Value.MediaID),
		Text:         ch.Value.Text,
		AuthorUserID: ch.Value.From.ID,
		Source:       model.SourceInstagram,
	}
	if ev.CommentID == "" {
		return model.CommentEvent{}, ErrMissingComment
	}
	return ev, nil
}

func normalizePage(entryID string, ch Change) (model.CommentEvent, error) {
	// Page payloads surface comments under feed/comments fields, or
	// mark the value itself with item == "comment".
	isComment := ch.Field == "feed" || ch.Field == "comments" || ch.Value.Item == "comment"
	if !isComment {
		return model.CommentEvent{}, fmt.Errorf("%w: field %q item %q", ErrNotComment, ch.Field, ch.Value.Item)
	}

	ev := model.CommentEvent{
		EntryID:      entryID,
		CommentID:    firstNonEmpty(ch.Value.CommentID, ch.Value.ID),
		PostID:       firstNonEmpty(ch.Value.PostID, ch.Value.ParentID),
		Text:         firstNonEmpty(ch.Value.Message, ch.Value.Text),
		AuthorUserID: ch.Value.From.ID,
		Source:       model.SourcePage,
	}
	if ev.CommentID == "" {
		return model.CommentEvent{}, ErrMissingComment
	}
	return ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
