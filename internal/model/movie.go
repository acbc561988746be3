package model

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Genres 允许的电影类型
var Genres = []string{
	"Action", "Adventure", "Comedy", "Drama", "Fantasy", "Horror", "Thriller", "Sci-Fi",
	"Documentary", "Animation", "Romance", "War", "Western", "Musical", "Sport",
}

var genreSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Genres))
	for _, g := range Genres {
		m[g] = struct{}{}
	}
	return m
}()

// IsValidGenre 判断类型是否在枚举内
func IsValidGenre(genre string) bool {
	_, ok := genreSet[genre]
	return ok
}

// 电影字段约束
const (
	MinReleaseYear       = 1900
	MaxTitleLength       = 200
	MaxDirectorLength    = 100
	MaxDescriptionLength = 500
)

// Movie 电影模型
// AverageRating 与 TotalReviews 是评论集合的派生缓存，只能由评分聚合器写入
type Movie struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	Title         string    `json:"title" gorm:"size:200;not null;index:idx_movie_title_year"`
	Director      string    `json:"director" gorm:"size:100;not null"`
	ReleaseYear   int       `json:"release_year" gorm:"not null;index:idx_movie_title_year"`
	Genre         string    `json:"genre" gorm:"size:32;not null;index"`
	PosterURL     *string   `json:"poster_url"`
	Description   *string   `json:"description" gorm:"size:500"`
	AverageRating float64   `json:"average_rating" gorm:"not null;default:0;index"`
	TotalReviews  int64     `json:"total_reviews" gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"created_at" gorm:"index"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BeforeCreate 生成主键
func (m *Movie) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// RatingSummary 电影评分聚合结果
type RatingSummary struct {
	Average float64 `json:"average_rating"`
	Count   int64   `json:"total_reviews"`
}

// SummarizeRatings 计算评分数量与平均值（保留一位小数，四舍五入远离零）
// 没有评分时返回 {0, 0}
func SummarizeRatings(ratings []int) RatingSummary {
	if len(ratings) == 0 {
		return RatingSummary{}
	}
	var sum int64
	for _, r := range ratings {
		sum += int64(r)
	}
	count := int64(len(ratings))
	return RatingSummary{Average: AverageOf(sum, count), Count: count}
}

// AverageOf 由总分和数量计算平均分，保留一位小数，count 为 0 时返回 0
func AverageOf(sum, count int64) float64 {
	if count <= 0 {
		return 0
	}
	// 先放大十倍再做除法，保证 .x5 的边界值能被精确表示
	return math.Round(float64(sum*10)/float64(count)) / 10
}
