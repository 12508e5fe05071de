package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyrelay/internal/model"
)

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestSaveKeyword_Validation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	t.Run("missing keyword", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/keywords", `{"scope": "global"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("post scope requires post id", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/keywords", `{"scope": "post", "keyword": "demo"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown scope", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/keywords", `{"scope": "user", "keyword": "demo"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSaveAndListKeywords(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{
		"scope": "global",
		"keyword": "  pricing  ",
		"variants": [" price ", "", "cost"],
		"commentReplies": ["Re: {{keyword}}"],
		"dmReplies": ["DM re: {{keyword}}"],
		"resourceUrl": "https://example.com/p"
	}`
	rec := doJSON(t, srv, http.MethodPost, "/api/keywords", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/keywords", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var catalog model.RuleCatalog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &catalog))
	require.Len(t, catalog.Global, 1)
	assert.Equal(t, "pricing", catalog.Global[0].Keyword, "keyword is trimmed")
	assert.Equal(t, []string{"price", "cost"}, catalog.Global[0].Variants, "variants are trimmed and blanks dropped")
}

func TestAutomationsRoundTrip(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/automations", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var seeded model.Automations
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &seeded))
	assert.NotEmpty(t, seeded.CommentReplies, "automations are seeded with defaults")

	rec = doJSON(t, srv, http.MethodPost, "/api/automations",
		`{"commentReplies": ["hi {{keyword}}"], "dmReplies": ["link {{resourceUrl}}"], "resourceUrl": "https://example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/automations", "")
	var got model.Automations
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"hi {{keyword}}"}, got.CommentReplies)
	assert.Equal(t, "https://example.com", got.ResourceURL)
}

func TestSaveCredentialAndStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/credentials", `{"pageId": "", "accessToken": "tok"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/credentials",
		`{"pageId": "PAGE1", "accessToken": "tok", "accountId": "IG1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		ConnectedPages []string `json:"connectedPages"`
		WebhookReady   bool     `json:"webhookReady"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, []string{"PAGE1"}, status.ConnectedPages)
	assert.True(t, status.WebhookReady)
}

func TestListActivity_EmptyIsArray(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
