package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"bboard/internal/database"
	"bboard/internal/metrics"
	"bboard/internal/notify"
)

const (
	maxAuthorLen          = 30
	defaultNotifyTimeout  = 3 * time.Second
	challengeImagePattern = "/v1/captcha/%s"
)

// Challenge 是匿名评论使用的人机校验。Verify 成功或失败后挑战都会作废。
type Challenge interface {
	Issue(ctx context.Context) (string, error)
	Verify(ctx context.Context, id, answer string) (bool, error)
}

// Viewer 是提交评论的身份。UserID 为 0 表示匿名访客。
type Viewer struct {
	UserID   uint
	Username string
}

// Authenticated 判断是否为已登录用户。
func (v Viewer) Authenticated() bool { return v.UserID != 0 }

// ChallengeForm 是返回给匿名访客的验证码描述。
type ChallengeForm struct {
	ID       string `json:"id"`
	ImageURL string `json:"image_url"`
}

// CommentForm 是评论表单描述：登录用户作者名被锁定，匿名访客需要完成验证码。
type CommentForm struct {
	AdID         uint              `json:"ad_id"`
	Author       string            `json:"author"`
	AuthorLocked bool              `json:"author_locked"`
	Content      string            `json:"content,omitempty"`
	Challenge    *ChallengeForm    `json:"challenge,omitempty"`
	Errors       map[string]string `json:"errors,omitempty"`
}

// CommentInput 是评论提交的数据。
type CommentInput struct {
	AdID            uint   `json:"-"`
	Author          string `json:"author" form:"author"`
	Content         string `json:"content" form:"content"`
	ChallengeID     string `json:"challenge_id" form:"challenge_id"`
	ChallengeAnswer string `json:"challenge_answer" form:"challenge_answer"`
}

// CommentOptions 配置 CommentWorkflow。
type CommentOptions struct {
	NotifyTimeout time.Duration
	SiteURL       string
	Logger        *slog.Logger
}

// CommentWorkflow 实现评论提交：展示表单、校验、保存并按需通知广告主。
type CommentWorkflow struct {
	db        *gorm.DB
	challenge Challenge
	gateway   notify.Gateway
	timeout   time.Duration
	siteURL   string
	logger    *slog.Logger
}

// NewCommentWorkflow 构造 CommentWorkflow。
func NewCommentWorkflow(db *gorm.DB, challenge Challenge, gateway notify.Gateway, opts CommentOptions) *CommentWorkflow {
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &CommentWorkflow{
		db:        db,
		challenge: challenge,
		gateway:   gateway,
		timeout:   opts.NotifyTimeout,
		siteURL:   strings.TrimRight(opts.SiteURL, "/"),
		logger:    opts.Logger,
	}
}

// Form 返回评论表单。匿名访客每次都会拿到一个新的验证码。
func (w *CommentWorkflow) Form(ctx context.Context, adID uint, viewer Viewer) (*CommentForm, error) {
	form := &CommentForm{AdID: adID}
	if viewer.Authenticated() {
		author, err := w.authorName(ctx, viewer)
		if err != nil {
			return nil, err
		}
		form.Author = author
		form.AuthorLocked = true
		return form, nil
	}

	id, err := w.challenge.Issue(ctx)
	if err != nil {
		return nil, fmt.Errorf("issue challenge: %w", err)
	}
	form.Challenge = &ChallengeForm{ID: id, ImageURL: fmt.Sprintf(challengeImagePattern, id)}
	return form, nil
}

// Submit 校验并保存评论。校验失败返回 *ValidationError 且不写入任何数据；
// 保存成功后若广告主开启了提醒，调用一次通知网关，网关失败只记录不返回。
func (w *CommentWorkflow) Submit(ctx context.Context, viewer Viewer, in CommentInput) (*database.Comment, error) {
	path := "anonymous"
	if viewer.Authenticated() {
		path = "authenticated"
		author, err := w.authorName(ctx, viewer)
		if err != nil {
			return nil, err
		}
		in.Author = author
	}

	var ad database.Ad
	if err := w.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", in.AdID, true).
		First(&ad).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ad %d: %w", in.AdID, err)
	}

	verr := &ValidationError{}
	in.Author = strings.TrimSpace(in.Author)
	in.Content = strings.TrimSpace(in.Content)
	switch {
	case in.Author == "":
		verr.add("author", "this field is required")
	case utf8.RuneCountInString(in.Author) > maxAuthorLen:
		verr.add("author", fmt.Sprintf("ensure this value has at most %d characters", maxAuthorLen))
	}
	if in.Content == "" {
		verr.add("content", "this field is required")
	}
	if !viewer.Authenticated() {
		if err := w.verifyChallenge(ctx, in, verr); err != nil {
			return nil, err
		}
	}
	if err := verr.orNil(); err != nil {
		metrics.CommentRejected(path)
		return nil, err
	}

	comment := database.Comment{
		AdID:       ad.ID,
		AuthorName: in.Author,
		Content:    in.Content,
		IsActive:   true,
	}
	if err := w.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	metrics.CommentCreated(path)

	w.notifyOwner(ctx, &ad, &comment)
	return &comment, nil
}

// authorName 返回登录用户当前的用户名。令牌里的用户名在改名后直到刷新前都是旧值，因此以数据库为准。
func (w *CommentWorkflow) authorName(ctx context.Context, viewer Viewer) (string, error) {
	var user database.User
	err := w.db.WithContext(ctx).Select("id", "username").First(&user, viewer.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("user %d: %w", viewer.UserID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get user %d: %w", viewer.UserID, err)
	}
	return user.Username, nil
}

func (w *CommentWorkflow) verifyChallenge(ctx context.Context, in CommentInput, verr *ValidationError) error {
	id := strings.TrimSpace(in.ChallengeID)
	answer := strings.TrimSpace(in.ChallengeAnswer)
	if id == "" || answer == "" {
		verr.add("captcha", "enter the characters shown in the image")
		return nil
	}
	ok, err := w.challenge.Verify(ctx, id, answer)
	if err != nil {
		return fmt.Errorf("verify challenge: %w", err)
	}
	if !ok {
		verr.add("captcha", "incorrect characters, try again")
	}
	return nil
}

func (w *CommentWorkflow) notifyOwner(ctx context.Context, ad *database.Ad, comment *database.Comment) {
	log := w.logger.With(slog.Uint64("ad_id", uint64(ad.ID)), slog.Uint64("comment_id", uint64(comment.ID)))

	var owner database.User
	if err := w.db.WithContext(ctx).First(&owner, ad.OwnerID).Error; err != nil {
		log.ErrorContext(ctx, "load ad owner failed", slog.Any("error", err))
		return
	}
	if !owner.SendNotifications {
		return
	}

	msg := notify.Message{
		Kind: notify.KindNewComment,
		Recipient: notify.Recipient{
			UserID:    owner.ID,
			Username:  owner.Username,
			Email:     owner.Email,
			FirstName: owner.FirstName,
		},
		Comment: &notify.CommentContext{
			CommentID: comment.ID,
			AdID:      ad.ID,
			RubricID:  ad.RubricID,
			AdTitle:   ad.Title,
			Author:    comment.AuthorName,
			Content:   comment.Content,
			Link:      fmt.Sprintf("%s/rubric/%d/ad/%d", w.siteURL, ad.RubricID, ad.ID),
		},
	}

	notifyCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	err := w.gateway.Notify(notifyCtx, msg)
	metrics.Notification(string(notify.KindNewComment), err)
	if err != nil {
		log.WarnContext(ctx, "new comment notification failed",
			slog.Uint64("owner_id", uint64(owner.ID)),
			slog.Any("error", err),
		)
	}
}

// ActiveComments 返回广告下已通过审核的评论，最新的在前。
func (w *CommentWorkflow) ActiveComments(ctx context.Context, adID uint) ([]database.Comment, error) {
	var comments []database.Comment
	if err := w.db.WithContext(ctx).
		Where("ad_id = ? AND is_active = ?", adID, true).
		Order("created_at DESC, id DESC").
		Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("list comments of ad %d: %w", adID, err)
	}
	return comments, nil
}

// SetCommentActive 切换评论的审核状态，不会触发通知。
func (w *CommentWorkflow) SetCommentActive(ctx context.Context, commentID uint, active bool) (*database.Comment, error) {
	var comment database.Comment
	if err := w.db.WithContext(ctx).First(&comment, commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get comment %d: %w", commentID, err)
	}
	if err := w.db.WithContext(ctx).Model(&comment).Update("is_active", active).Error; err != nil {
		return nil, fmt.Errorf("update comment %d: %w", commentID, err)
	}
	comment.IsActive = active
	return &comment, nil
}
