// Package store defines the persistence interfaces consumed by the
// webhook core and their JSON-file and SQLite implementations. The
// matching and dispatch packages know nothing about the storage
// mechanism behind these interfaces.
package store

import (
	"context"
	"errors"

	"github.com/replyrelay/internal/model"
)

// ErrNotFound is returned when a lookup has no result.
var ErrNotFound = errors.New("not found")

// RuleStore owns the keyword rules.
type RuleStore interface {
	// RulesForPost returns the global rules plus the rules scoped to
	// the given post, each in insertion order.
	RulesForPost(ctx context.Context, postID string) (model.RuleSet, error)
	// UpsertRule replaces any rule with the same keyword in the given
	// scope and appends the new one at the end of the list.
	UpsertRule(ctx context.Context, scope model.RuleScope, postID string, rule model.Rule) error
	// AllRules dumps the full catalog for the admin API.
	AllRules(ctx context.Context) (model.RuleCatalog, error)
}

// CredentialStore resolves dispatch credentials. An external OAuth
// worker populates it; this service only reads and never caches.
type CredentialStore interface {
	// Resolve returns the credential for a page id, or ErrNotFound.
	Resolve(ctx context.Context, pageID string) (model.Credential, error)
	// PageForAccount reverse-maps a platform account id onto the page
	// id the credential is stored under, or ErrNotFound.
	PageForAccount(ctx context.Context, accountID string) (string, error)
	// PutCredential stores a page credential and, when accountID is
	// non-empty, the account-to-page reverse mapping.
	PutCredential(ctx context.Context, cred model.Credential, accountID string) error
	// Pages lists the page ids with stored credentials.
	Pages(ctx context.Context) ([]string, error)
}

// AutomationStore holds the fallback reply templates.
type AutomationStore interface {
	Automations(ctx context.Context) (model.Automations, error)
	SaveAutomations(ctx context.Context, a model.Automations) error
}

// ActivityStore records processed-change outcomes, most recent first.
type ActivityStore interface {
	AppendActivity(ctx context.Context, rec model.ActivityRecord) error
	RecentActivity(ctx context.Context, limit int) ([]model.ActivityRecord, error)
}

// Store is the full persistence surface a backend must provide.
type Store interface {
	RuleStore
	CredentialStore
	AutomationStore
	ActivityStore
	Close() error
}

// MaxActivityRecords caps the retained activity log.
const MaxActivityRecords = 200
