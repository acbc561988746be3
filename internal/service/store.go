package service

import (
	"context"
	"time"

	"github.com/user/moovie-reviews/internal/model"
	"github.com/user/moovie-reviews/internal/repository"
)

// 服务依赖的存储接口，由 repository 包实现

type UserStore interface {
	Create(ctx context.Context, user *model.User, password string) error
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	CheckPassword(user *model.User, password string) bool
	UpdateProfile(ctx context.Context, userID, username, email string) error
	UpdateRole(ctx context.Context, userID, role string) error
	SetDeactivated(ctx context.Context, userID string, deactivated bool) error
	List(ctx context.Context, offset, limit int) ([]model.User, int64, error)
	Delete(ctx context.Context, userID string) ([]string, error)
	Count(ctx context.Context) (int64, error)
	CountByRole(ctx context.Context) ([]repository.RoleCount, error)
	CreatedSince(ctx context.Context, since time.Time) ([]time.Time, error)
	TopReviewers(ctx context.Context, limit int) ([]repository.ReviewerStat, error)
}

type MovieStore interface {
	Create(ctx context.Context, movie *model.Movie) error
	FindByID(ctx context.Context, id string) (*model.Movie, error)
	FindDuplicate(ctx context.Context, title, director string, year int, excludeID string) (*model.Movie, error)
	List(ctx context.Context) ([]model.Movie, error)
	Update(ctx context.Context, movie *model.Movie) error
	UpdateRating(ctx context.Context, movieID string, summary model.RatingSummary) error
	Delete(ctx context.Context, id string) error
	LiveRatings(ctx context.Context) (map[string]repository.LiveRating, error)
	IDsAfter(ctx context.Context, afterID string, limit int) ([]string, error)
}

type ReviewStore interface {
	Create(ctx context.Context, review *model.Review) error
	FindByID(ctx context.Context, id string) (*model.Review, error)
	FindByMovieAndUser(ctx context.Context, movieID, userID string) (*model.Review, error)
	RatingsByMovie(ctx context.Context, movieID string) ([]int, error)
	List(ctx context.Context, offset, limit int) ([]model.Review, int64, error)
	ListByMovie(ctx context.Context, movieID string) ([]model.Review, error)
	ListByUser(ctx context.Context, userID string) ([]model.Review, error)
	UpdateContent(ctx context.Context, id string, rating int, comment string) error
	Delete(ctx context.Context, id string) error
	CountByUser(ctx context.Context, userID string) (int64, error)
	SumRatings(ctx context.Context) (repository.LiveRating, error)
	CreatedSince(ctx context.Context, since time.Time) ([]time.Time, error)
}

type EventStore interface {
	Create(ctx context.Context, event *model.Event) error
	FindByID(ctx context.Context, id string) (*model.Event, error)
	ListVisible(ctx context.Context, v model.Viewer, now time.Time, unreadOnly bool, offset, limit int) ([]model.EventView, error)
	CountVisible(ctx context.Context, v model.Viewer, now time.Time, unreadOnly bool) (int64, error)
	VisibleUnreadIDs(ctx context.Context, v model.Viewer, now time.Time) ([]string, error)
	AddRead(ctx context.Context, eventID, userID string, at time.Time) (bool, error)
	ReadCounts(ctx context.Context, eventIDs []string) (map[string]int64, error)
	ListAll(ctx context.Context, eventType string, offset, limit int) ([]model.Event, int64, error)
	Delete(ctx context.Context, id string) error
}
