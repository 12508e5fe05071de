package api

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyrelay/internal/dispatch"
	"github.com/replyrelay/internal/model"
	"github.com/replyrelay/internal/reply"
	"github.com/replyrelay/internal/store"
)

type recordedSend struct {
	target, message, token string
}

type captureSender struct {
	mu       sync.Mutex
	replies  []recordedSend
	messages []recordedSend
}

func (c *captureSender) SendPublicReply(_ context.Context, commentID, message, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, recordedSend{target: commentID, message: message, token: token})
	return nil
}

func (c *captureSender) SendPrivateMessage(_ context.Context, userID, message, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, recordedSend{target: userID, message: message, token: token})
	return nil
}

func newTestServer(t *testing.T) (*Server, *store.JSONStore, *captureSender) {
	t.Helper()
	st, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)

	sender := &captureSender{}
	composer := reply.NewComposer(rand.NewSource(1))
	dispatcher := dispatch.NewDispatcher(st, st, composer, sender)

	return NewServer(0, "verify-secret", st, dispatcher), st, sender
}

func TestVerifySubscription(t *testing.T) {
	tests := []struct {
		name                           string
		mode, token, challenge, secret string
		wantBody                       string
		wantOK                         bool
	}{
		{"accept", "subscribe", "T", "X", "T", "X", true},
		{"wrong mode", "unsubscribe", "T", "X", "T", "", false},
		{"wrong token", "subscribe", "other", "X", "T", "", false},
		{"empty expected token", "subscribe", "", "X", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ok := VerifySubscription(tt.mode, tt.token, tt.challenge, tt.secret)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestVerifyWebhookHandler(t *testing.T) {
	srv, _, _ := newTestServer(t)

	t.Run("accepted", func(t *testing.T) {
		q := url.Values{}
		q.Set("hub.mode", "subscribe")
		q.Set("hub.verify_token", "verify-secret")
		q.Set("hub.challenge", "challenge-123")

		req := httptest.NewRequest(http.MethodGet, "/webhook?"+q.Encode(), nil)
		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "challenge-123", rec.Body.String())
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	})

	t.Run("rejected", func(t *testing.T) {
		q := url.Values{}
		q.Set("hub.mode", "subscribe")
		q.Set("hub.verify_token", "wrong")
		q.Set("hub.challenge", "challenge-123")

		req := httptest.NewRequest(http.MethodGet, "/webhook?"+q.Encode(), nil)
		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}

func postWebhook(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandler_EndToEnd(t *testing.T) {
	srv, st, sender := newTestServer(t)
	ctx := context.Background()

	rule := model.Rule{
		Keyword:        "pricing",
		Variants:       []string{},
		CommentReplies: []string{"Re: {{keyword}}"},
		DMReplies:      []string{"DM re: {{keyword}}"},
	}
	require.NoError(t, st.UpsertRule(ctx, model.ScopeGlobal, "", rule))
	require.NoError(t, st.PutCredential(ctx, model.Credential{PageID: "E1", AccessToken: "tok"}, ""))

	payload := `{
		"object": "instagram",
		"entry": [{
			"id": "E1",
			"changes": [{
				"field": "comments",
				"value": {
					"comment_id": "C1",
					"post_id": "P1",
					"text": "tell me about pricing",
					"from": {"id": "U1"}
				}
			}]
		}]
	}`

	rec := postWebhook(t, srv, payload)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": true}`, rec.Body.String())

	require.Len(t, sender.replies, 1)
	assert.Equal(t, "C1", sender.replies[0].target)
	assert.Equal(t, "Re: pricing", sender.replies[0].message)
	assert.Equal(t, "tok", sender.replies[0].token)

	require.Len(t, sender.messages, 1)
	assert.Equal(t, "U1", sender.messages[0].target)
	assert.Equal(t, "DM re: pricing", sender.messages[0].message)

	// The processed change lands in the activity log.
	records, err := st.RecentActivity(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "pricing", records[0].Keyword)
	assert.Equal(t, "ok", records[0].PublicStatus)
	assert.Equal(t, "ok", records[0].PrivateStatus)
}

func TestWebhookHandler_NoMatchSendsNothing(t *testing.T) {
	srv, st, sender := newTestServer(t)
	require.NoError(t, st.PutCredential(context.Background(), model.Credential{PageID: "E1", AccessToken: "tok"}, ""))

	payload := `{
		"object": "instagram",
		"entry": [{
			"id": "E1",
			"changes": [{
				"field": "comments",
				"value": {"comment_id": "C1", "post_id": "P1", "text": "lovely photo", "from": {"id": "U1"}}
			}]
		}]
	}`

	rec := postWebhook(t, srv, payload)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, sender.replies)
	assert.Empty(t, sender.messages)
}

func TestWebhookHandler_FailOpenAcrossChanges(t *testing.T) {
	srv, st, sender := newTestServer(t)
	ctx := context.Background()

	rule := model.Rule{Keyword: "pricing", CommentReplies: []string{"Re: {{keyword}}"}, DMReplies: []string{"DM"}}
	require.NoError(t, st.UpsertRule(ctx, model.ScopeGlobal, "", rule))
	require.NoError(t, st.PutCredential(ctx, model.Credential{PageID: "E1", AccessToken: "tok"}, ""))

	// First change has no comment id and is discarded; the second one
	// must still be processed.
	payload := `{
		"object": "instagram",
		"entry": [{
			"id": "E1",
			"changes": [
				{"field": "comments", "value": {"text": "pricing?"}},
				{"field": "mentions", "value": {"comment_id": "CX"}},
				{"field": "comments", "value": {"comment_id": "C2", "post_id": "P1", "text": "pricing?", "from": {"id": "U2"}}}
			]
		}]
	}`

	rec := postWebhook(t, srv, payload)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, sender.replies, 1)
	assert.Equal(t, "C2", sender.replies[0].target)
}

func TestWebhookHandler_PageSchema(t *testing.T) {
	srv, st, sender := newTestServer(t)
	ctx := context.Background()

	rule := model.Rule{Keyword: "shipping", CommentReplies: []string{"On it"}, DMReplies: []string{"DM"}}
	require.NoError(t, st.UpsertRule(ctx, model.ScopeGlobal, "", rule))
	require.NoError(t, st.PutCredential(ctx, model.Credential{PageID: "PAGE1", AccessToken: "pt"}, ""))

	payload := `{
		"object": "page",
		"entry": [{
			"id": "PAGE1",
			"changes": [{
				"field": "feed",
				"value": {"item": "comment", "comment_id": "C9", "parent_id": "POST9", "message": "shipping cost?", "from": {"id": "U9"}}
			}]
		}]
	}`

	rec := postWebhook(t, srv, payload)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, sender.replies, 1)
	assert.Equal(t, "C9", sender.replies[0].target)
	assert.Equal(t, "pt", sender.replies[0].token)
	require.Len(t, sender.messages, 1)
	assert.Equal(t, "U9", sender.messages[0].target)
}

func TestWebhookHandler_UnknownObjectStillAccepted(t *testing.T) {
	srv, _, sender := newTestServer(t)

	rec := postWebhook(t, srv, `{"object": "user", "entry": [{"id": "E1", "changes": [{"field": "comments"}]}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": true}`, rec.Body.String())
	assert.Empty(t, sender.replies)
}

func TestWebhookHandler_EmptyEntriesAccepted(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := postWebhook(t, srv, `{"object": "instagram", "entry": []}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": true}`, rec.Body.String())
}

func TestWebhookHandler_MalformedJSON(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := postWebhook(t, srv, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	// The error body stays generic.
	assert.NotContains(t, rec.Body.String(), "unexpected")
}

func TestWebhookHandler_MissingUserSkipsDM(t *testing.T) {
	srv, st, sender := newTestServer(t)
	ctx := context.Background()

	rule := model.Rule{Keyword: "pricing", CommentReplies: []string{"Re"}, DMReplies: []string{"DM"}}
	require.NoError(t, st.UpsertRule(ctx, model.ScopeGlobal, "", rule))
	require.NoError(t, st.PutCredential(ctx, model.Credential{PageID: "E1", AccessToken: "tok"}, ""))

	payload := `{
		"object": "instagram",
		"entry": [{
			"id": "E1",
			"changes": [{
				"field": "comments",
				"value": {"comment_id": "C1", "post_id": "P1", "text": "pricing"}
			}]
		}]
	}`

	rec := postWebhook(t, srv, payload)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, sender.replies, 1, "public reply still attempted")
	assert.Empty(t, sender.messages)

	records, err := st.RecentActivity(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "skipped:no_user", records[0].PrivateStatus)
}
