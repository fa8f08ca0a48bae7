package api

import (
	"context"
	"log/slog"
	"time"

	"bboard/internal/board"
	"bboard/internal/database"
)

type imageView struct {
	ID  uint   `json:"id"`
	URL string `json:"url"`
}

type adView struct {
	ID          uint        `json:"id"`
	RubricID    uint        `json:"rubric_id"`
	Rubric      string      `json:"rubric,omitempty"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Price       float64     `json:"price"`
	ContactInfo string      `json:"contact_info"`
	ImageURL    string      `json:"image_url,omitempty"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
	Images      []imageView `json:"images,omitempty"`
}

type commentView struct {
	ID        uint      `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type pageView struct {
	Items       []adView `json:"items"`
	Number      int      `json:"number"`
	Size        int      `json:"size"`
	Total       int64    `json:"total"`
	NumPages    int      `json:"num_pages"`
	HasNext     bool     `json:"has_next"`
	HasPrevious bool     `json:"has_previous"`
}

type rubricView struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	Display  string `json:"display"`
	Order    int16  `json:"order"`
	ParentID *uint  `json:"parent_id"`
}

type userView struct {
	ID                uint       `json:"id"`
	Username          string     `json:"username"`
	Email             string     `json:"email"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	IsActive          bool       `json:"is_active"`
	IsActivated       bool       `json:"is_activated"`
	SendNotifications bool       `json:"send_notifications"`
	IsStaff           bool       `json:"is_staff"`
	LastLogin         *time.Time `json:"last_login,omitempty"`
	DateJoined        time.Time  `json:"date_joined"`
}

// presigner 负责把对象 key 转为限时访问链接；失败时返回空字符串并记录日志。
type presigner struct {
	storage ImageStorage
	ttl     time.Duration
}

func (p presigner) url(ctx context.Context, log *slog.Logger, key string) string {
	if key == "" || p.storage == nil {
		return ""
	}
	u, err := p.storage.GeneratePresignedURL(ctx, key, p.ttl)
	if err != nil {
		log.Warn("generate image url failed", slog.String("key", key), slog.Any("error", err))
		return ""
	}
	return u
}

func (p presigner) ad(ctx context.Context, log *slog.Logger, ad database.Ad) adView {
	view := adView{
		ID:          ad.ID,
		RubricID:    ad.RubricID,
		Title:       ad.Title,
		Description: ad.Description,
		Price:       ad.Price,
		ContactInfo: ad.ContactInfo,
		ImageURL:    p.url(ctx, log, ad.PrimaryImage),
		IsActive:    ad.IsActive,
		CreatedAt:   ad.CreatedAt,
	}
	if ad.Rubric.ID != 0 {
		view.Rubric = ad.Rubric.DisplayName()
	}
	for _, img := range ad.Images {
		view.Images = append(view.Images, imageView{ID: img.ID, URL: p.url(ctx, log, img.ImageKey)})
	}
	return view
}

func (p presigner) ads(ctx context.Context, log *slog.Logger, ads []database.Ad) []adView {
	views := make([]adView, 0, len(ads))
	for _, ad := range ads {
		views = append(views, p.ad(ctx, log, ad))
	}
	return views
}

func (p presigner) page(ctx context.Context, log *slog.Logger, page *board.Page[database.Ad]) pageView {
	return pageView{
		Items:       p.ads(ctx, log, page.Items),
		Number:      page.Number,
		Size:        page.Size,
		Total:       page.Total,
		NumPages:    page.NumPages,
		HasNext:     page.HasNext,
		HasPrevious: page.HasPrevious,
	}
}

func newCommentViews(comments []database.Comment) []commentView {
	views := make([]commentView, 0, len(comments))
	for _, cm := range comments {
		views = append(views, newCommentView(cm))
	}
	return views
}

func newCommentView(cm database.Comment) commentView {
	return commentView{
		ID:        cm.ID,
		Author:    cm.AuthorName,
		Content:   cm.Content,
		IsActive:  cm.IsActive,
		CreatedAt: cm.CreatedAt,
	}
}

func newRubricView(r database.Rubric) rubricView {
	return rubricView{ID: r.ID, Name: r.Name, Display: r.DisplayName(), Order: r.Order, ParentID: r.ParentID}
}

func newUserView(u database.User) userView {
	return userView{
		ID:                u.ID,
		Username:          u.Username,
		Email:             u.Email,
		FirstName:         u.FirstName,
		LastName:          u.LastName,
		IsActive:          u.IsActive,
		IsActivated:       u.IsActivated,
		SendNotifications: u.SendNotifications,
		IsStaff:           u.IsStaff,
		LastLogin:         u.LastLogin,
		DateJoined:        u.CreatedAt,
	}
}
