package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 评论字段约束
const (
	MinRating        = 1
	MaxRating        = 5
	MaxCommentLength = 1000
)

// Review 评论模型，(movie_id, user_id) 唯一
type Review struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	MovieID   string    `json:"movie_id" gorm:"size:36;not null;uniqueIndex:idx_review_movie_user"`
	UserID    string    `json:"user_id" gorm:"size:36;not null;uniqueIndex:idx_review_movie_user;index"`
	Rating    int       `json:"rating" gorm:"not null;check:chk_review_rating,rating >= 1 AND rating <= 5"`
	Comment   string    `json:"comment" gorm:"size:1000;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	User  *User  `json:"user,omitempty" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Movie *Movie `json:"movie,omitempty" gorm:"foreignKey:MovieID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate 生成主键
func (r *Review) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// IsRatingInRange 评分是否在 1..5
func IsRatingInRange(rating int) bool {
	return rating >= MinRating && rating <= MaxRating
}

// MonthlyCount 按月统计
type MonthlyCount struct {
	Year  int   `json:"year"`
	Month int   `json:"month"`
	Count int64 `json:"count"`
}

// CountByMonth 将时间列表按年月聚合，结果按时间升序
func CountByMonth(times []time.Time) []MonthlyCount {
	index := make(map[[2]int]int)
	var out []MonthlyCount
	for _, t := range times {
		key := [2]int{t.Year(), int(t.Month())}
		if i, ok := index[key]; ok {
			out[i].Count++
			continue
		}
		index[key] = len(out)
		out = append(out, MonthlyCount{Year: key[0], Month: key[1], Count: 1})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out
}
