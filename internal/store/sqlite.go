package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/replyrelay/internal/model"
	"github.com/replyrelay/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// activityTimeLayout keeps a fixed width so lexicographic ordering in
// SQL matches chronological ordering.
const activityTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite implements Store backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// RulesForPost returns the global rules plus the post-scoped rules,
// each in insertion order.
func (s *SQLite) RulesForPost(ctx context.Context, postID string) (model.RuleSet, error) {
	global, err := s.rulesWhere(ctx, string(model.ScopeGlobal), "")
	if err != nil {
		return model.RuleSet{}, err
	}
	local, err := s.rulesWhere(ctx, string(model.ScopePost), postID)
	if err != nil {
		return model.RuleSet{}, err
	}
	return model.RuleSet{Global: global, Local: local}, nil
}

// UpsertRule deletes any same-keyword rule in the scope and inserts
// the new one, which lands at the end of the insertion order.
func (s *SQLite) UpsertRule(ctx context.Context, scope model.RuleScope, postID string, rule model.Rule) error {
	if scope == model.ScopePost && postID == "" {
		return fmt.Errorf("post id is required for post-scoped rules")
	}
	if scope != model.ScopeGlobal && scope != model.ScopePost {
		return fmt.Errorf("unknown rule scope %q", scope)
	}
	if scope == model.ScopeGlobal {
		postID = ""
	}

	variants, err := marshalList(rule.Variants)
	if err != nil {
		return err
	}
	commentReplies, err := marshalList(rule.CommentReplies)
	if err != nil {
		return err
	}
	dmReplies, err := marshalList(rule.DMReplies)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rules WHERE scope = ? AND post_id = ? AND keyword = ?`,
		string(scope), postID, rule.Keyword,
	); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rules (scope, post_id, keyword, variants, comment_replies, dm_replies, resource_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(scope), postID, rule.Keyword, variants, commentReplies, dmReplies, rule.ResourceURL,
		time.Now().UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}

	return tx.Commit()
}

// AllRules dumps the full catalog.
func (s *SQLite) AllRules(ctx context.Context) (model.RuleCatalog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope, post_id, keyword, variants, comment_replies, dm_replies, resource_url
		 FROM rules ORDER BY id`,
	)
	if err != nil {
		return model.RuleCatalog{}, fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	catalog := model.RuleCatalog{Posts: map[string][]model.Rule{}}
	for rows.Next() {
		var (
			scope, postID string
			rule          model.Rule
		)
		if err := scanRuleColumns(rows, &scope, &postID, &rule); err != nil {
			return model.RuleCatalog{}, err
		}
		if scope == string(model.ScopeGlobal) {
			catalog.Global = append(catalog.Global, rule)
		} else {
			catalog.Posts[postID] = append(catalog.Posts[postID], rule)
		}
	}
	return catalog, rows.Err()
}

// Resolve returns the credential for a page id.
func (s *SQLite) Resolve(ctx context.Context, pageID string) (model.Credential, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token FROM credentials WHERE page_id = ?`, pageID,
	).Scan(&token)
	if err == sql.ErrNoRows {
		return model.Credential{}, ErrNotFound
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("query credential: %w", err)
	}
	return model.Credential{PageID: pageID, AccessToken: token}, nil
}

// PageForAccount reverse-maps an account id onto a page id.
func (s *SQLite) PageForAccount(ctx context.Context, accountID string) (string, error) {
	var pageID string
	err := s.db.QueryRowContext(ctx,
		`SELECT page_id FROM account_pages WHERE account_id = ?`, accountID,
	).Scan(&pageID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query account page: %w", err)
	}
	return pageID, nil
}

// PutCredential stores a page token and optional reverse mapping.
func (s *SQLite) PutCredential(ctx context.Context, cred model.Credential, accountID string) error {
	now := time.Now().UTC().Format(timeLayout)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (page_id, access_token, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(page_id) DO UPDATE SET access_token = excluded.access_token, updated_at = excluded.updated_at`,
		cred.PageID, cred.AccessToken, now,
	); err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	if accountID != "" {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO account_pages (account_id, page_id) VALUES (?, ?)
			 ON CONFLICT(account_id) DO UPDATE SET page_id = excluded.page_id`,
			accountID, cred.PageID,
		); err != nil {
			return fmt.Errorf("upsert account page: %w", err)
		}
	}
	return nil
}

// Pages lists stored page ids.
func (s *SQLite) Pages(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT page_id FROM credentials ORDER BY page_id`)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pages []string
	for rows.Next() {
		var pageID string
		if err := rows.Scan(&pageID); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, pageID)
	}
	return pages, rows.Err()
}

// Automations returns the fallback template sets, seeding defaults
// on first read.
func (s *SQLite) Automations(ctx context.Context) (model.Automations, error) {
	var (
		commentReplies, dmReplies, resourceURL string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT comment_replies, dm_replies, resource_url FROM automations WHERE id = 1`,
	).Scan(&commentReplies, &dmReplies, &resourceURL)
	if err == sql.ErrNoRows {
		seed := model.Automations{
			CommentReplies: []string{"Thanks for commenting about {{keyword}}!"},
			DMReplies:      []string{"Here's the link you asked for: {{resourceUrl}}"},
		}
		if err := s.SaveAutomations(ctx, seed); err != nil {
			return model.Automations{}, err
		}
		return seed, nil
	}
	if err != nil {
		return model.Automations{}, fmt.Errorf("query automations: %w", err)
	}

	var a model.Automations
	if err := json.Unmarshal([]byte(commentReplies), &a.CommentReplies); err != nil {
		return model.Automations{}, fmt.Errorf("parse comment replies: %w", err)
	}
	if err := json.Unmarshal([]byte(dmReplies), &a.DMReplies); err != nil {
		return model.Automations{}, fmt.Errorf("parse dm replies: %w", err)
	}
	a.ResourceURL = resourceURL
	return a, nil
}

// SaveAutomations replaces the fallback template sets.
func (s *SQLite) SaveAutomations(ctx context.Context, a model.Automations) error {
	commentReplies, err := marshalList(a.CommentReplies)
	if err != nil {
		return err
	}
	dmReplies, err := marshalList(a.DMReplies)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO automations (id, comment_replies, dm_replies, resource_url) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET comment_replies = excluded.comment_replies,
		                               dm_replies = excluded.dm_replies,
		                               resource_url = excluded.resource_url`,
		commentReplies, dmReplies, a.ResourceURL,
	); err != nil {
		return fmt.Errorf("upsert automations: %w", err)
	}
	return nil
}

// AppendActivity records one outcome and prunes beyond the cap.
func (s *SQLite) AppendActivity(ctx context.Context, rec model.ActivityRecord) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO activity (id, created_at, source, entry_id, comment_id, post_id, keyword, public_status, private_status, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CreatedAt.UTC().Format(activityTimeLayout), string(rec.Source),
		rec.EntryID, rec.CommentID, rec.PostID, rec.Keyword,
		rec.PublicStatus, rec.PrivateStatus, rec.Detail,
	); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM activity WHERE id NOT IN (
		    SELECT id FROM activity ORDER BY created_at DESC LIMIT ?
		 )`, MaxActivityRecords,
	); err != nil {
		return fmt.Errorf("prune activity: %w", err)
	}
	return nil
}

// RecentActivity returns up to limit records, newest first.
func (s *SQLite) RecentActivity(ctx context.Context, limit int) ([]model.ActivityRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, source, entry_id, comment_id, post_id, keyword, public_status, private_status, detail
		 FROM activity ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.ActivityRecord
	for rows.Next() {
		var (
			rec       model.ActivityRecord
			createdAt string
			source    string
		)
		if err := rows.Scan(&rec.ID, &createdAt, &source, &rec.EntryID, &rec.CommentID,
			&rec.PostID, &rec.Keyword, &rec.PublicStatus, &rec.PrivateStatus, &rec.Detail); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		rec.CreatedAt, err = time.Parse(activityTimeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse activity timestamp: %w", err)
		}
		rec.Source = model.SourceKind(source)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLite) rulesWhere(ctx context.Context, scope, postID string) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope, post_id, keyword, variants, comment_replies, dm_replies, resource_url
		 FROM rules WHERE scope = ? AND post_id = ? ORDER BY id`,
		scope, postID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.Rule
	for rows.Next() {
		var (
			gotScope, gotPostID string
			rule                model.Rule
		)
		if err := scanRuleColumns(rows, &gotScope, &gotPostID, &rule); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRuleColumns(rows *sql.Rows, scope, postID *string, rule *model.Rule) error {
	var variants, commentReplies, dmReplies string
	if err := rows.Scan(scope, postID, &rule.Keyword, &variants, &commentReplies, &dmReplies, &rule.ResourceURL); err != nil {
		return fmt.Errorf("scan rule: %w", err)
	}
	if err := json.Unmarshal([]byte(variants), &rule.Variants); err != nil {
		return fmt.Errorf("parse variants: %w", err)
	}
	if err := json.Unmarshal([]byte(commentReplies), &rule.CommentReplies); err != nil {
		return fmt.Errorf("parse comment replies: %w", err)
	}
	if err := json.Unmarshal([]byte(dmReplies), &rule.DMReplies); err != nil {
		return fmt.Errorf("parse dm replies: %w", err)
	}
	return nil
}

func marshalList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("marshal list: %w", err)
	}
	return string(data), nil
}

var _ Store = (*SQLite)(nil)
