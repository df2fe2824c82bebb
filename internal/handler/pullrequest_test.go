package handler_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codehost/internal/model"
)

func TestPullRequestFlow(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register(t, "alice")
	bob := api.register(t, "bob")
	api.createRepo(t, alice, "proj", false)

	// Issue and pull request numbers come from separate sequences.
	rec := api.do(t, http.MethodPost, "/api/v1/repos/alice/proj/issues", bob, map[string]any{"title": "bug"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/repos/alice/proj/pulls", bob, map[string]any{
		"title":      "Fix bug",
		"headBranch": "fix-bug",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pr := decode[model.PullRequest](t, rec)
	assert.Equal(t, int64(1), pr.Number)
	assert.Equal(t, "main", pr.BaseBranch)
	assert.Equal(t, model.PullRequestOpen, pr.Status)

	rec = api.do(t, http.MethodPatch, "/api/v1/repos/alice/proj/pulls/1", bob, map[string]any{"title": "Fix the bug"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Fix the bug", decode[model.PullRequest](t, rec).Title)

	rec = api.do(t, http.MethodPut, "/api/v1/repos/alice/proj/pulls/1/merge", bob, nil)
	assertError(t, rec, http.StatusForbidden, "forbidden")

	rec = api.do(t, http.MethodPut, "/api/v1/repos/alice/proj/pulls/1/merge", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	merged := decode[model.PullRequest](t, rec)
	assert.Equal(t, model.PullRequestMerged, merged.Status)
	assert.True(t, merged.IsMerged)
	require.NotNil(t, merged.MergeMessage)
	assert.Equal(t, "Merge pull request #1 from fix-bug", *merged.MergeMessage)

	rec = api.do(t, http.MethodPut, "/api/v1/repos/alice/proj/pulls/1/merge", alice, nil)
	assertError(t, rec, http.StatusConflict, "conflict")

	rec = api.do(t, http.MethodPatch, "/api/v1/repos/alice/proj/pulls/1/reopen", alice, nil)
	assertError(t, rec, http.StatusConflict, "conflict")

	rec = api.do(t, http.MethodGet, "/api/v1/repos/alice/proj/pulls?state=merged", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.PullRequest](t, rec), 1)
}

func TestPullRequestMerge_CustomMessage(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register(t, "alice")
	api.createRepo(t, alice, "proj", false)
	rec := api.do(t, http.MethodPost, "/api/v1/repos/alice/proj/pulls", alice, map[string]any{
		"title":      "Feature",
		"headBranch": "feature",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/v1/repos/alice/proj/pulls/1/merge", alice, map[string]any{"mergeMessage": "Ship it"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	merged := decode[model.PullRequest](t, rec)
	require.NotNil(t, merged.MergeMessage)
	assert.Equal(t, "Ship it", *merged.MergeMessage)
}

func TestPullRequestCloseReopen(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register(t, "alice")
	bob := api.register(t, "bob")
	carol := api.register(t, "carol")
	api.createRepo(t, alice, "proj", false)
	rec := api.do(t, http.MethodPost, "/api/v1/repos/alice/proj/pulls", bob, map[string]any{
		"title":      "Feature",
		"headBranch": "feature",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, http.MethodPatch, "/api/v1/repos/alice/proj/pulls/1/close", carol, nil)
	assertError(t, rec, http.StatusForbidden, "forbidden")

	rec = api.do(t, http.MethodPatch, "/api/v1/repos/alice/proj/pulls/1/close", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.PullRequestClosed, decode[model.PullRequest](t, rec).Status)

	rec = api.do(t, http.MethodPut, "/api/v1/repos/alice/proj/pulls/1/merge", alice, nil)
	assertError(t, rec, http.StatusConflict, "conflict")

	rec = api.do(t, http.MethodPatch, "/api/v1/repos/alice/proj/pulls/1/reopen", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reopened := decode[model.PullRequest](t, rec)
	assert.Equal(t, model.PullRequestOpen, reopened.Status)
	assert.Nil(t, reopened.ClosedAt)
}

func TestPullRequestCreate_Errors(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register(t, "alice")
	api.createRepo(t, alice, "proj", false)

	rec := api.do(t, http.MethodPost, "/api/v1/repos/alice/proj/pulls", alice, map[string]any{
		"title":      "Same branch",
		"headBranch": "main",
	})
	resp := assertError(t, rec, http.StatusBadRequest, "validation_error")
	assert.Equal(t, "headBranch", resp.Field)

	rec = api.do(t, http.MethodPost, "/api/v1/repos/alice/proj/pulls", "", map[string]any{
		"title":      "Anonymous",
		"headBranch": "feature",
	})
	assertError(t, rec, http.StatusUnauthorized, "unauthorized")

	rec = api.do(t, http.MethodGet, "/api/v1/repos/alice/proj/pulls?limit=-1", "", nil)
	assertError(t, rec, http.StatusBadRequest, "validation_error")
}
