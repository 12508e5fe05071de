// Package model holds the domain types shared across the service.
package model

import "time"

// SourceKind identifies which webhook schema produced a comment event.
type SourceKind string

const (
	SourceInstagram SourceKind = "instagram"
	SourcePage      SourceKind = "page"
)

// CommentEvent is the canonical, schema-independent representation of
// an inbound comment notification. Immutable once constructed; it
// lives for the duration of one webhook delivery.
type CommentEvent struct {
	EntryID      string
	CommentID    string
	PostID       string
	Text         string
	AuthorUserID string
	Source       SourceKind
}

// RuleScope says whether a rule applies to every post or one post.
type RuleScope string

const (
	ScopeGlobal RuleScope = "global"
	ScopePost   RuleScope = "post"
)

// Rule is a configured keyword trigger mapped to reply templates and
// an optional resource link. Owned by the rule store; read-only here.
type Rule struct {
	Keyword        string   `json:"keyword"`
	Variants       []string `json:"variants"`
	CommentReplies []string `json:"commentReplies"`
	DMReplies      []string `json:"dmReplies"`
	ResourceURL    string   `json:"resourceUrl"`
}

// EffectiveVariants returns the rule's variant list, falling back to
// a singleton list of the keyword when no variants are configured.
func (r Rule) EffectiveVariants() []string {
	if len(r.Variants) > 0 {
		return r.Variants
	}
	return []string{r.Keyword}
}

// RuleSet is the pair of rule lists that apply to one post. Local
// rules always take priority over global ones.
type RuleSet struct {
	Global []Rule `json:"global"`
	Local  []Rule `json:"local"`
}

// RuleCatalog is the full rule store contents, used by the admin API.
type RuleCatalog struct {
	Global []Rule            `json:"global"`
	Posts  map[string][]Rule `json:"posts"`
}

// Credential is an access token bound to a page identifier. Resolved
// per dispatch and never cached; freshness is the credential store's
// responsibility.
type Credential struct {
	PageID      string `json:"pageId"`
	AccessToken string `json:"accessToken"`
}

// Automations holds the fallback reply template sets used when a
// matched rule does not carry its own.
type Automations struct {
	CommentReplies []string `json:"commentReplies"`
	DMReplies      []string `json:"dmReplies"`
	ResourceURL    string   `json:"resourceUrl"`
}

// ActivityRecord captures the outcome of one processed comment change.
type ActivityRecord struct {
	ID            string     `json:"id"`
	CreatedAt     time.Time  `json:"createdAt"`
	Source        SourceKind `json:"source"`
	EntryID       string     `json:"entryId"`
	CommentID     string     `json:"commentId"`
	PostID        string     `json:"postId"`
	Keyword       string     `json:"keyword"`
	PublicStatus  string     `json:"publicStatus"`
	PrivateStatus string     `json:"privateStatus"`
	Detail        string     `json:"detail,omitempty"`
}
