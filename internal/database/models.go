package database

import (
	"fmt"
	"time"
)

// User 表示站点账号。
// IsActive 控制能否登录，IsActivated 记录邮箱是否已确认；自助注册时两者同时置为 false，确认后一起恢复。
type User struct {
	ID                 uint   `gorm:"primaryKey"`
	Username           string `gorm:"uniqueIndex;size:150;not null"`
	Email              string `gorm:"size:254;index"`
	FirstName          string `gorm:"size:150"`
	LastName           string `gorm:"size:150"`
	PasswordHash       string `gorm:"size:255"`
	IsActive           bool   `gorm:"not null"`
	IsActivated        bool   `gorm:"not null;index"`
	SendNotifications  bool   `gorm:"not null"`
	IsStaff            bool   `gorm:"not null"`
	MustChangePassword bool   `gorm:"not null"`
	LastLogin          *time.Time
	CreatedAt          time.Time `gorm:"index"`
	UpdatedAt          time.Time
}

// Rubric 是分类树的节点：ParentID 为空的是大类，非空的是子类。
// 两级结构共用一张表，只在读取时按 ParentID 分区。
type Rubric struct {
	ID        uint    `gorm:"primaryKey"`
	Name      string  `gorm:"uniqueIndex;size:20;not null"`
	Order     int16   `gorm:"column:sort_order;not null;default:0;index"`
	ParentID  *uint   `gorm:"index"`
	Parent    *Rubric `gorm:"constraint:OnDelete:RESTRICT"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsGeneral 判断是否为大类。
func (r Rubric) IsGeneral() bool { return r.ParentID == nil }

// DisplayName 子类展示为 "大类 - 子类"，需要预加载 Parent。
func (r Rubric) DisplayName() string {
	if r.Parent == nil {
		return r.Name
	}
	return fmt.Sprintf("%s - %s", r.Parent.Name, r.Name)
}

// Ad 表示一条分类信息。
type Ad struct {
	ID           uint      `gorm:"primaryKey"`
	RubricID     uint      `gorm:"index;not null"`
	Rubric       Rubric    `gorm:"constraint:OnDelete:RESTRICT"`
	Title        string    `gorm:"size:40;not null"`
	Description  string    `gorm:"type:text;not null"`
	Price        float64   `gorm:"not null;default:0"`
	ContactInfo  string    `gorm:"type:text;not null"`
	PrimaryImage string    `gorm:"size:255"`
	OwnerID      uint      `gorm:"index;not null"`
	Owner        User      `gorm:"constraint:OnDelete:CASCADE"`
	IsActive     bool      `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
	Images       []AdditionalImage `gorm:"constraint:OnDelete:CASCADE"`
	Comments     []Comment         `gorm:"constraint:OnDelete:CASCADE"`
}

// AdditionalImage 是广告的附加图片，ImageKey 为对象存储中的 key。
type AdditionalImage struct {
	ID        uint   `gorm:"primaryKey"`
	AdID      uint   `gorm:"index;not null"`
	ImageKey  string `gorm:"size:255;not null"`
	CreatedAt time.Time
}

// Comment 表示广告下的评论；作者是自由文本，允许匿名访客留言。
type Comment struct {
	ID         uint      `gorm:"primaryKey"`
	AdID       uint      `gorm:"index;not null"`
	AuthorName string    `gorm:"size:30;not null"`
	Content    string    `gorm:"type:text;not null"`
	IsActive   bool      `gorm:"not null;index"`
	CreatedAt  time.Time `gorm:"index"`
}
