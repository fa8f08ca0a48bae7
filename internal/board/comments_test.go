package board

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"bboard/internal/database"
	"bboard/internal/notify"
)

type commentFixture struct {
	db        *gorm.DB
	owner     database.User
	bob       database.User
	ad        database.Ad
	challenge *fakeChallenge
	gateway   *fakeGateway
	workflow  *CommentWorkflow
}

func newCommentFixture(t *testing.T, sendNotifications bool) *commentFixture {
	t.Helper()
	db := newTestDB(t)
	owner := seedUser(t, db, "alice", sendNotifications)
	bob := seedUser(t, db, "bob", false)
	root := seedRubric(t, db, "Electronics", 0, nil)
	phones := seedRubric(t, db, "Phones", 0, &root)
	ad := seedAd(t, db, owner, phones, adSeed{title: "iPhone", active: true})

	challenge := newFakeChallenge()
	gateway := &fakeGateway{}
	workflow := NewCommentWorkflow(db, challenge, gateway, CommentOptions{
		NotifyTimeout: time.Second,
		SiteURL:       "https://board.example.com/",
	})
	return &commentFixture{
		db:        db,
		owner:     owner,
		bob:       bob,
		ad:        ad,
		challenge: challenge,
		gateway:   gateway,
		workflow:  workflow,
	}
}

// commenter 是已登录的评论者。
func (f *commentFixture) commenter() Viewer {
	return Viewer{UserID: f.bob.ID, Username: f.bob.Username}
}

func TestCommentFormVariants(t *testing.T) {
	f := newCommentFixture(t, true)
	ctx := context.Background()

	form, err := f.workflow.Form(ctx, f.ad.ID, f.commenter())
	require.NoError(t, err)
	assert.Equal(t, "bob", form.Author)
	assert.True(t, form.AuthorLocked)
	assert.Nil(t, form.Challenge)

	form, err = f.workflow.Form(ctx, f.ad.ID, Viewer{})
	require.NoError(t, err)
	assert.False(t, form.AuthorLocked)
	require.NotNil(t, form.Challenge)
	assert.Equal(t, "challenge-1", form.Challenge.ID)
	assert.Equal(t, "/v1/captcha/challenge-1", form.Challenge.ImageURL)
}

func TestAnonymousCommentWithWrongChallengeIsNotPersisted(t *testing.T) {
	f := newCommentFixture(t, true)
	ctx := context.Background()
	form, err := f.workflow.Form(ctx, f.ad.ID, Viewer{})
	require.NoError(t, err)

	for _, in := range []CommentInput{
		{AdID: f.ad.ID, Author: "guest", Content: "hi"},
		{AdID: f.ad.ID, Author: "guest", Content: "hi", ChallengeID: form.Challenge.ID, ChallengeAnswer: "000000"},
		{AdID: f.ad.ID, Author: "guest", Content: "hi", ChallengeID: "unknown", ChallengeAnswer: "123456"},
	} {
		_, err := f.workflow.Submit(ctx, Viewer{}, in)
		verr, ok := AsValidation(err)
		require.True(t, ok, "expected validation error, got %v", err)
		assert.Contains(t, verr.Fields, "captcha")
	}

	assert.EqualValues(t, 0, count(t, f.db, &database.Comment{}, "1 = 1"))
	assert.Empty(t, f.gateway.messages)
}

func TestChallengeIsSingleUse(t *testing.T) {
	f := newCommentFixture(t, false)
	ctx := context.Background()
	form, err := f.workflow.Form(ctx, f.ad.ID, Viewer{})
	require.NoError(t, err)

	in := CommentInput{AdID: f.ad.ID, Author: "guest", Content: "first", ChallengeID: form.Challenge.ID, ChallengeAnswer: "123456"}
	_, err = f.workflow.Submit(ctx, Viewer{}, in)
	require.NoError(t, err)

	in.Content = "replayed"
	_, err = f.workflow.Submit(ctx, Viewer{}, in)
	_, ok := AsValidation(err)
	assert.True(t, ok)
	assert.EqualValues(t, 1, count(t, f.db, &database.Comment{}, "1 = 1"))
}

func TestAuthenticatedCommentNotifiesOwnerOnce(t *testing.T) {
	f := newCommentFixture(t, true)
	ctx := context.Background()

	comment, err := f.workflow.Submit(ctx, f.commenter(), CommentInput{
		AdID:    f.ad.ID,
		Author:  "someone else",
		Content: "  is it still available?  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", comment.AuthorName, "author is locked to the username")
	assert.Equal(t, "is it still available?", comment.Content)
	assert.True(t, comment.IsActive)

	require.Len(t, f.gateway.messages, 1)
	msg := f.gateway.messages[0]
	assert.Equal(t, notify.KindNewComment, msg.Kind)
	assert.Equal(t, f.owner.ID, msg.Recipient.UserID)
	assert.Equal(t, "alice@example.com", msg.Recipient.Email)
	require.NotNil(t, msg.Comment)
	assert.Equal(t, f.ad.ID, msg.Comment.AdID)
	assert.Equal(t, "is it still available?", msg.Comment.Content)
	assert.Equal(t, "https://board.example.com/rubric/"+itoa(f.ad.RubricID)+"/ad/"+itoa(f.ad.ID), msg.Comment.Link)
	assert.True(t, f.gateway.deadline, "gateway call must be bounded by a timeout")

	_, err = f.workflow.SetCommentActive(ctx, comment.ID, false)
	require.NoError(t, err)
	assert.Len(t, f.gateway.messages, 1, "moderation must not notify")
}

func TestCommentWithoutOptInSendsNothing(t *testing.T) {
	f := newCommentFixture(t, false)

	_, err := f.workflow.Submit(context.Background(), f.commenter(), CommentInput{
		AdID:    f.ad.ID,
		Content: "hello",
	})
	require.NoError(t, err)
	assert.Empty(t, f.gateway.messages)
	assert.EqualValues(t, 1, count(t, f.db, &database.Comment{}, "1 = 1"))
}

func TestGatewayFailureDoesNotRollBackComment(t *testing.T) {
	f := newCommentFixture(t, true)
	f.gateway.err = errGatewayDown

	comment, err := f.workflow.Submit(context.Background(), f.commenter(), CommentInput{
		AdID:    f.ad.ID,
		Content: "hello",
	})
	require.NoError(t, err)
	assert.Len(t, f.gateway.messages, 1)
	assert.EqualValues(t, 1, count(t, f.db, &database.Comment{}, "id = ?", comment.ID))
}

func TestSubmitValidatesFields(t *testing.T) {
	f := newCommentFixture(t, true)
	ctx := context.Background()

	_, err := f.workflow.Submit(ctx, f.commenter(), CommentInput{AdID: f.ad.ID, Content: "   "})
	verr, ok := AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, verr.Fields, "content")

	_, err = f.workflow.Submit(ctx, Viewer{}, CommentInput{AdID: f.ad.ID, Author: "", Content: "hi"})
	verr, ok = AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, verr.Fields, "author")

	_, err = f.workflow.Submit(ctx, f.commenter(), CommentInput{AdID: 999, Content: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.db.Model(&database.Ad{}).Where("id = ?", f.ad.ID).Update("is_active", false).Error)
	_, err = f.workflow.Submit(ctx, f.commenter(), CommentInput{AdID: f.ad.ID, Content: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.EqualValues(t, 0, count(t, f.db, &database.Comment{}, "1 = 1"))
	assert.Empty(t, f.gateway.messages)
}

func TestActiveCommentsAndModeration(t *testing.T) {
	f := newCommentFixture(t, false)
	ctx := context.Background()
	viewer := f.commenter()

	first, err := f.workflow.Submit(ctx, viewer, CommentInput{AdID: f.ad.ID, Content: "first"})
	require.NoError(t, err)
	_, err = f.workflow.Submit(ctx, viewer, CommentInput{AdID: f.ad.ID, Content: "second"})
	require.NoError(t, err)

	comments, err := f.workflow.ActiveComments(ctx, f.ad.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "second", comments[0].Content)

	hidden, err := f.workflow.SetCommentActive(ctx, first.ID, false)
	require.NoError(t, err)
	assert.False(t, hidden.IsActive)

	comments, err = f.workflow.ActiveComments(ctx, f.ad.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "second", comments[0].Content)

	_, err = f.workflow.SetCommentActive(ctx, 999, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func itoa(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}

func TestAuthenticatedAuthorFollowsRename(t *testing.T) {
	f := newCommentFixture(t, false)
	ctx := context.Background()
	viewer := f.commenter()

	require.NoError(t, f.db.Model(&database.User{}).Where("id = ?", f.bob.ID).Update("username", "robert").Error)

	form, err := f.workflow.Form(ctx, f.ad.ID, viewer)
	require.NoError(t, err)
	assert.Equal(t, "robert", form.Author)

	comment, err := f.workflow.Submit(ctx, viewer, CommentInput{AdID: f.ad.ID, Content: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "robert", comment.AuthorName)

	_, err = f.workflow.Submit(ctx, Viewer{UserID: 9999, Username: "ghost"}, CommentInput{AdID: f.ad.ID, Content: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)
}
