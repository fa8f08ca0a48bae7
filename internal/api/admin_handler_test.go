package api

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bboard/internal/database"
	"bboard/internal/notify"
)

func staffToken(t *testing.T, ts *testServer) string {
	t.Helper()
	staff := seedUser(t, ts.db, userSeed{username: "admin", active: true, activated: true, staff: true})
	return ts.token(t, staff)
}

func TestAdminRequiresStaff(t *testing.T) {
	ts := newTestServer(t)
	user := activeUser(t, ts.db, "regular")

	w := ts.do(t, http.MethodGet, "/v1/admin/users", nil, ts.token(t, user))
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do(t, http.MethodGet, "/v1/admin/users", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRubricLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token := staffToken(t, ts)

	w := ts.do(t, http.MethodPost, "/v1/admin/rubrics", map[string]any{"name": "Realty", "order": 1}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rootID := uint(decode(t, w)["id"].(float64))

	w = ts.do(t, http.MethodPost, "/v1/admin/rubrics", map[string]any{"name": "Flats", "parent_id": rootID}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	subID := uint(decode(t, w)["id"].(float64))

	w = ts.do(t, http.MethodPost, "/v1/admin/rubrics", map[string]any{"name": "Flats", "parent_id": rootID}, token)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// 有子类的大类受保护。
	w = ts.do(t, http.MethodDelete, "/v1/admin/rubrics/"+uintToString(rootID), nil, token)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, float64(4091), decode(t, w)["code"])

	w = ts.do(t, http.MethodPut, "/v1/admin/rubrics/"+uintToString(subID), map[string]any{"name": "Apartments", "parent_id": rootID}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Apartments", decode(t, w)["name"])

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/admin/rubrics/"+uintToString(subID), nil, token).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/admin/rubrics/"+uintToString(rootID), nil, token).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/v1/admin/rubrics/"+uintToString(rootID), nil, token).Code)
}

func TestAdminListUsersByActivationState(t *testing.T) {
	ts := newTestServer(t)
	token := staffToken(t, ts)
	now := time.Now()
	seedUser(t, ts.db, userSeed{username: "fresh", joined: now.Add(-time.Hour)})
	seedUser(t, ts.db, userSeed{username: "stale", joined: now.AddDate(0, 0, -5)})
	seedUser(t, ts.db, userSeed{username: "ancient", joined: now.AddDate(0, 0, -30)})

	usernames := func(state string) []string {
		w := ts.do(t, http.MethodGet, "/v1/admin/users?actstate="+state, nil, token)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var out []string
		for _, u := range decode(t, w)["users"].([]any) {
			out = append(out, u.(map[string]any)["username"].(string))
		}
		return out
	}

	assert.ElementsMatch(t, []string{"admin"}, usernames("activated"))
	assert.ElementsMatch(t, []string{"stale", "ancient"}, usernames("threedays"))
	assert.ElementsMatch(t, []string{"ancient"}, usernames("week"))

	w := ts.do(t, http.MethodGet, "/v1/admin/users?actstate=bogus", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminUserSearchMatchesWildcardsLiterally(t *testing.T) {
	ts := newTestServer(t)
	token := staffToken(t, ts)
	seedUser(t, ts.db, userSeed{username: "a_b"})
	seedUser(t, ts.db, userSeed{username: "axb"})
	seedUser(t, ts.db, userSeed{username: "Ann%"})

	search := func(q string) []string {
		w := ts.do(t, http.MethodGet, "/v1/admin/users?search="+url.QueryEscape(q), nil, token)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var out []string
		for _, u := range decode(t, w)["users"].([]any) {
			out = append(out, u.(map[string]any)["username"].(string))
		}
		return out
	}

	assert.ElementsMatch(t, []string{"a_b"}, search("a_b"))
	assert.ElementsMatch(t, []string{"Ann%"}, search("ann%"))
	assert.Empty(t, search("%%"))
}

func TestAdminSendActivationSkipsActivatedUsers(t *testing.T) {
	ts := newTestServer(t)
	token := staffToken(t, ts)
	pending := seedUser(t, ts.db, userSeed{username: "pending"})
	done := activeUser(t, ts.db, "done")

	w := ts.do(t, http.MethodPost, "/v1/admin/users/send-activation", map[string]any{"ids": []uint{pending.ID, done.ID}}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []any{float64(pending.ID)}, decode(t, w)["sent"])

	sent := ts.gateway.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notify.KindActivation, sent[0].Kind)
	assert.Equal(t, pending.ID, sent[0].Recipient.UserID)
}

func TestAdminDeleteUserAndModerateComment(t *testing.T) {
	ts := newTestServer(t)
	token := staffToken(t, ts)
	owner := activeUser(t, ts.db, "owner")
	root := seedRubric(t, ts.db, "Transport", nil)
	bikes := seedRubric(t, ts.db, "Bikes", &root)
	ad := seedAd(t, ts.db, owner, bikes, "Bike", true)
	comment := database.Comment{AdID: ad.ID, AuthorName: "guest", Content: "spam", IsActive: true}
	require.NoError(t, ts.db.Create(&comment).Error)

	w := ts.do(t, http.MethodPatch, "/v1/admin/comments/"+uintToString(comment.ID), map[string]any{"is_active": false}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode(t, w)["is_active"])

	// 未审核的评论不出现在详情页。
	w = ts.do(t, http.MethodGet, "/v1/rubric/"+uintToString(bikes.ID)+"/ad/"+uintToString(ad.ID), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["comments"])

	w = ts.do(t, http.MethodDelete, "/v1/admin/users/"+uintToString(owner.ID), nil, token)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	var ads int64
	require.NoError(t, ts.db.Model(&database.Ad{}).Count(&ads).Error)
	assert.Zero(t, ads)

	w = ts.do(t, http.MethodDelete, "/v1/admin/users/"+uintToString(owner.ID), nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
