package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/user/moovie-reviews/internal/metrics"
	"github.com/user/moovie-reviews/internal/model"
	"github.com/user/moovie-reviews/internal/repository"
)

var errInjected = errors.New("injected failure")

// testEnv 基于内存 sqlite 的完整服务组合
type testEnv struct {
	repos   *repository.Repositories
	metrics *metrics.Metrics
	effects *SideEffects
	rating  *RatingAggregator
	events  *EventService
	movies  *MovieService
	reviews *ReviewService
	users   *UserService
	auth    *AuthService
}

type envOption func(*envStores)

type envStores struct {
	movies  MovieStore
	events  EventStore
	posters PosterLookup
}

func withMovieStore(fn func(MovieStore) MovieStore) envOption {
	return func(s *envStores) { s.movies = fn(s.movies) }
}

func withEventStore(fn func(EventStore) EventStore) envOption {
	return func(s *envStores) { s.events = fn(s.events) }
}

func withPosters(p PosterLookup) envOption {
	return func(s *envStores) { s.posters = p }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	db, err := repository.Open(sqlite.Open("file::memory:?_pragma=foreign_keys(1)"), logger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repos := repository.NewRepositories(db)
	stores := &envStores{movies: repos.Movie, events: repos.Event}
	for _, opt := range opts {
		opt(stores)
	}

	log := zerolog.Nop()
	m := metrics.New(nil)
	effects := NewSideEffects(time.Second, m, log)
	rating := NewRatingAggregator(repos.Review, stores.movies, m, log)
	events := NewEventService(stores.events, nil, m, log)

	return &testEnv{
		repos:   repos,
		metrics: m,
		effects: effects,
		rating:  rating,
		events:  events,
		movies:  NewMovieService(stores.movies, rating, events, stores.posters, effects, log),
		reviews: NewReviewService(repos.Review, stores.movies, rating, events, effects, log),
		users:   NewUserService(repos.User, repos.Review, rating, events, effects, log),
		auth:    NewAuthService(repos.User, fakeTokens{}, events, effects, log),
	}
}

func (e *testEnv) user(t *testing.T, name, role string) *model.User {
	t.Helper()
	u := &model.User{Username: name, Email: name + "@example.com", Role: role}
	require.NoError(t, e.repos.User.Create(context.Background(), u, "secret123"))
	return u
}

func (e *testEnv) movie(t *testing.T, title string) *model.Movie {
	t.Helper()
	m := &model.Movie{Title: title, Director: "Director", ReleaseYear: 2010, Genre: "Drama"}
	require.NoError(t, e.repos.Movie.Create(context.Background(), m))
	return m
}

func (e *testEnv) reloadMovie(t *testing.T, id string) *model.Movie {
	t.Helper()
	m, err := e.repos.Movie.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, m)
	return m
}

func (e *testEnv) eventTypes(t *testing.T, v model.Viewer) []string {
	t.Helper()
	out, err := e.events.ListForUser(context.Background(), ListForUserInput{Viewer: v, Limit: 100})
	require.NoError(t, err)
	types := make([]string, len(out.Events))
	for i, ev := range out.Events {
		types[i] = ev.Type
	}
	return types
}

type fakeTokens struct{}

func (fakeTokens) Generate(userID, role string) (string, error) {
	return "token:" + userID + ":" + role, nil
}

// failingRatingStore 写评分缓存总是失败
type failingRatingStore struct {
	MovieStore
}

func (failingRatingStore) UpdateRating(context.Context, string, model.RatingSummary) error {
	return errInjected
}

// failingEventCreate 创建事件总是失败
type failingEventCreate struct {
	EventStore
}

func (failingEventCreate) Create(context.Context, *model.Event) error {
	return errInjected
}

// flakyReads 对指定事件写已读回执失败
type flakyReads struct {
	EventStore
	failID string
}

func (f flakyReads) AddRead(ctx context.Context, eventID, userID string, at time.Time) (bool, error) {
	if eventID == f.failID {
		return false, errInjected
	}
	return f.EventStore.AddRead(ctx, eventID, userID, at)
}

type stubPosters struct {
	url   string
	calls int
}

func (s *stubPosters) Lookup(context.Context, string, int) string {
	s.calls++
	return s.url
}
