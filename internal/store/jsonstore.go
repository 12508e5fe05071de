package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/replyrelay/internal/model"
)

const (
	rulesFile       = "keywords.json"
	tokensFile      = "tokens.json"
	automationsFile = "automations.json"
	activityFile    = "logs.json"
)

// JSONStore persists everything as JSON files in a data directory.
// All methods are safe for concurrent use within one process.
type JSONStore struct {
	dir string
	mu  sync.RWMutex
}

type rulesDoc struct {
	Global []model.Rule            `json:"global"`
	Posts  map[string][]model.Rule `json:"posts"`
}

type tokensDoc struct {
	// Pages maps a page id onto its stored access token.
	Pages map[string]string `json:"pages"`
	// AccountToPage reverse-maps a platform account id onto the page
	// id its credential is stored under.
	AccountToPage map[string]string `json:"account_to_page"`
}

// NewJSONStore creates the data directory if needed and returns a
// store rooted there.
func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &JSONStore{dir: dir}, nil
}

// Close implements Store; the JSON backend holds no resources.
func (s *JSONStore) Close() error { return nil }

// RulesForPost returns the global rules plus the post-scoped rules.
func (s *JSONStore) RulesForPost(_ context.Context, postID string) (model.RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc rulesDoc
	if err := s.read(rulesFile, &doc, rulesDoc{Posts: map[string][]model.Rule{}}); err != nil {
		return model.RuleSet{}, err
	}
	return model.RuleSet{
		Global: doc.Global,
		Local:  doc.Posts[postID],
	}, nil
}

// UpsertRule replaces any same-keyword rule in the scope and appends
// the new one at the end, preserving the store's insertion order.
func (s *JSONStore) UpsertRule(_ context.Context, scope model.RuleScope, postID string, rule model.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc rulesDoc
	if err := s.read(rulesFile, &doc, rulesDoc{Posts: map[string][]model.Rule{}}); err != nil {
		return err
	}
	if doc.Posts == nil {
		doc.Posts = map[string][]model.Rule{}
	}

	switch scope {
	case model.ScopeGlobal:
		doc.Global = upsertList(doc.Global, rule)
	case model.ScopePost:
		if postID == "" {
			return fmt.Errorf("post id is required for post-scoped rules")
		}
		doc.Posts[postID] = upsertList(doc.Posts[postID], rule)
	default:
		return fmt.Errorf("unknown rule scope %q", scope)
	}
	return s.write(rulesFile, doc)
}

// AllRules dumps the full catalog.
func (s *JSONStore) AllRules(_ context.Context) (model.RuleCatalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc rulesDoc
	if err := s.read(rulesFile, &doc, rulesDoc{Posts: map[string][]model.Rule{}}); err != nil {
		return model.RuleCatalog{}, err
	}
	return model.RuleCatalog{Global: doc.Global, Posts: doc.Posts}, nil
}

// Resolve returns the credential stored for a page id.
func (s *JSONStore) Resolve(_ context.Context, pageID string) (model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc tokensDoc
	if err := s.read(tokensFile, &doc, emptyTokensDoc()); err != nil {
		return model.Credential{}, err
	}
	token, ok := doc.Pages[pageID]
	if !ok || token == "" {
		return model.Credential{}, ErrNotFound
	}
	return model.Credential{PageID: pageID, AccessToken: token}, nil
}

// PageForAccount reverse-maps an account id onto a page id.
func (s *JSONStore) PageForAccount(_ context.Context, accountID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc tokensDoc
	if err := s.read(tokensFile, &doc, emptyTokensDoc()); err != nil {
		return "", err
	}
	pageID, ok := doc.AccountToPage[accountID]
	if !ok || pageID == "" {
		return "", ErrNotFound
	}
	return pageID, nil
}

// PutCredential stores a page token and optional reverse mapping.
func (s *JSONStore) PutCredential(_ context.Context, cred model.Credential, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc tokensDoc
	if err := s.read(tokensFile, &doc, emptyTokensDoc()); err != nil {
		return err
	}
	if doc.Pages == nil {
		doc.Pages = map[string]string{}
	}
	if doc.AccountToPage == nil {
		doc.AccountToPage = map[string]string{}
	}
	doc.Pages[cred.PageID] = cred.AccessToken
	if accountID != "" {
		doc.AccountToPage[accountID] = cred.PageID
	}
	return s.write(tokensFile, doc)
}

// Pages lists stored page ids in stable order.
func (s *JSONStore) Pages(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc tokensDoc
	if err := s.read(tokensFile, &doc, emptyTokensDoc()); err != nil {
		return nil, err
	}
	pages := make([]string, 0, len(doc.Pages))
	for pageID := range doc.Pages {
		pages = append(pages, pageID)
	}
	sort.Strings(pages)
	return pages, nil
}

// Automations returns the fallback template sets.
func (s *JSONStore) Automations(_ context.Context) (model.Automations, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc model.Automations
	seed := model.Automations{
		CommentReplies: []string{"Thanks for commenting about {{keyword}}!"},
		DMReplies:      []string{"Here's the link you asked for: {{resourceUrl}}"},
	}
	if err := s.read(automationsFile, &doc, seed); err != nil {
		return model.Automations{}, err
	}
	return doc, nil
}

// SaveAutomations replaces the fallback template sets.
func (s *JSONStore) SaveAutomations(_ context.Context, a model.Automations) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(automationsFile, a)
}

// AppendActivity records one outcome, keeping the most recent
// MaxActivityRecords entries.
func (s *JSONStore) AppendActivity(_ context.Context, rec model.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []model.ActivityRecord
	if err := s.read(activityFile, &records, []model.ActivityRecord{}); err != nil {
		return err
	}
	records = append(records, rec)
	if len(records) > MaxActivityRecords {
		records = records[len(records)-MaxActivityRecords:]
	}
	return s.write(activityFile, records)
}

// RecentActivity returns up to limit records, newest first.
func (s *JSONStore) RecentActivity(_ context.Context, limit int) ([]model.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []model.ActivityRecord
	if err := s.read(activityFile, &records, []model.ActivityRecord{}); err != nil {
		return nil, err
	}
	out := make([]model.ActivityRecord, 0, len(records))
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

// read loads fileName into v, seeding the file with def when missing.
func (s *JSONStore) read(fileName string, v any, def any) error {
	path := filepath.Join(s.dir, fileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		seed, marshalErr := json.MarshalIndent(def, "", "  ")
		if marshalErr != nil {
			return fmt.Errorf("seed %s: %w", fileName, marshalErr)
		}
		if writeErr := os.WriteFile(path, seed, 0644); writeErr != nil {
			return fmt.Errorf("seed %s: %w", fileName, writeErr)
		}
		data = seed
	} else if err != nil {
		return fmt.Errorf("read %s: %w", fileName, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", fileName, err)
	}
	return nil
}

func (s *JSONStore) write(fileName string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", fileName, err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, fileName), data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", fileName, err)
	}
	return nil
}

func emptyTokensDoc() tokensDoc {
	return tokensDoc{Pages: map[string]string{}, AccountToPage: map[string]string{}}
}

func upsertList(list []model.Rule, rule model.Rule) []model.Rule {
	next := make([]model.Rule, 0, len(list)+1)
	for _, item := range list {
		if item.Keyword != rule.Keyword {
			next = append(next, item)
		}
	}
	return append(next, rule)
}

var _ Store = (*JSONStore)(nil)
