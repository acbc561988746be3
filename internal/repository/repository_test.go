package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/user/moovie-reviews/internal/model"
)

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db, err := Open(sqlite.Open("file::memory:?_pragma=foreign_keys(1)"), logger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return NewRepositories(db)
}

func createUser(t *testing.T, repos *Repositories, name, role string) *model.User {
	t.Helper()
	u := &model.User{Username: name, Email: name + "@Example.com", Role: role}
	require.NoError(t, repos.User.Create(context.Background(), u, "secret123"))
	return u
}

func createMovie(t *testing.T, repos *Repositories, title string) *model.Movie {
	t.Helper()
	m := &model.Movie{Title: title, Director: "Someone", ReleaseYear: 2000, Genre: "Drama"}
	require.NoError(t, repos.Movie.Create(context.Background(), m))
	return m
}

func TestUserRepository_CreateAndFind(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	u := createUser(t, repos, "alice", model.RoleUser)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.NotEqual(t, "secret123", u.PasswordHash)

	found, err := repos.User.FindByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, u.ID, found.ID)
	assert.True(t, repos.User.CheckPassword(found, "secret123"))
	assert.False(t, repos.User.CheckPassword(found, "wrong"))

	missing, err := repos.User.FindByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUserRepository_Duplicate(t *testing.T) {
	repos := newTestRepos(t)
	createUser(t, repos, "alice", model.RoleUser)

	dup := &model.User{Username: "alice", Email: "other@example.com"}
	err := repos.User.Create(context.Background(), dup, "secret123")
	assert.ErrorIs(t, err, ErrDuplicate)

	dup = &model.User{Username: "other", Email: "alice@example.com"}
	err = repos.User.Create(context.Background(), dup, "secret123")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestReviewRepository_UniquePerMovieAndUser(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	u := createUser(t, repos, "alice", model.RoleUser)
	m := createMovie(t, repos, "X")

	require.NoError(t, repos.Review.Create(ctx, &model.Review{MovieID: m.ID, UserID: u.ID, Rating: 4, Comment: "good"}))
	err := repos.Review.Create(ctx, &model.Review{MovieID: m.ID, UserID: u.ID, Rating: 2, Comment: "again"})
	assert.ErrorIs(t, err, ErrDuplicate)

	ratings, err := repos.Review.RatingsByMovie(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, ratings)
}

func TestMovieRepository_UpdateRatingAndEdit(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	m := createMovie(t, repos, "X")

	require.NoError(t, repos.Movie.UpdateRating(ctx, m.ID, model.RatingSummary{Average: 3.5, Count: 2}))

	m.Title = "X2"
	m.AverageRating = 5
	m.TotalReviews = 99
	require.NoError(t, repos.Movie.Update(ctx, m))

	got, err := repos.Movie.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "X2", got.Title)
	assert.Equal(t, 3.5, got.AverageRating)
	assert.Equal(t, int64(2), got.TotalReviews)

	assert.ErrorIs(t, repos.Movie.UpdateRating(ctx, "missing", model.RatingSummary{}), ErrNotFound)
}

func TestMovieRepository_FindDuplicate(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	m := createMovie(t, repos, "The Film")

	dup, err := repos.Movie.FindDuplicate(ctx, "the film", "someone", 2000, "")
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, m.ID, dup.ID)

	dup, err = repos.Movie.FindDuplicate(ctx, "the film", "someone", 2000, m.ID)
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestMovieRepository_DeleteCascadesReviews(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	u := createUser(t, repos, "alice", model.RoleUser)
	m := createMovie(t, repos, "X")
	require.NoError(t, repos.Review.Create(ctx, &model.Review{MovieID: m.ID, UserID: u.ID, Rating: 4, Comment: "good"}))

	require.NoError(t, repos.Movie.Delete(ctx, m.ID))
	count, err := repos.Review.CountByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, repos.Movie.Delete(ctx, m.ID), ErrNotFound)
}

func TestUserRepository_DeleteReturnsAffectedMovies(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	u := createUser(t, repos, "alice", model.RoleUser)
	other := createUser(t, repos, "bob", model.RoleUser)
	m1 := createMovie(t, repos, "A")
	m2 := createMovie(t, repos, "B")
	require.NoError(t, repos.Review.Create(ctx, &model.Review{MovieID: m1.ID, UserID: u.ID, Rating: 4, Comment: "a"}))
	require.NoError(t, repos.Review.Create(ctx, &model.Review{MovieID: m2.ID, UserID: u.ID, Rating: 2, Comment: "b"}))
	require.NoError(t, repos.Review.Create(ctx, &model.Review{MovieID: m1.ID, UserID: other.ID, Rating: 5, Comment: "c"}))

	movieIDs, err := repos.User.Delete(ctx, u.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{m1.ID, m2.ID}, movieIDs)

	ratings, err := repos.Review.RatingsByMovie(ctx, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, ratings)

	_, err = repos.User.Delete(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepository_TopReviewersAndRoles(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	alice := createUser(t, repos, "alice", model.RoleUser)
	bob := createUser(t, repos, "bob", model.RoleUser)
	createUser(t, repos, "root", model.RoleAdmin)
	m1 := createMovie(t, repos, "A")
	m2 := createMovie(t, repos, "B")
	require.NoError(t, repos.Review.Create(ctx, &model.Review{MovieID: m1.ID, UserID: alice.ID, Rating: 4, Comment: "a"}))
	require.NoError(t, repos.Review.Create(ctx, &model.Review{MovieID: m2.ID, UserID: alice.ID, Rating: 2, Comment: "b"}))
	require.NoError(t, repos.Review.Create(ctx, &model.Review{MovieID: m1.ID, UserID: bob.ID, Rating: 5, Comment: "c"}))

	top, err := repos.User.TopReviewers(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "alice", top[0].Username)
	assert.Equal(t, int64(2), top[0].ReviewCount)

	roles, err := repos.User.CountByRole(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RoleCount{{Role: model.RoleAdmin, Count: 1}, {Role: model.RoleUser, Count: 2}}, roles)

	sum, err := repos.Review.SumRatings(ctx)
	require.NoError(t, err)
	assert.Equal(t, LiveRating{Sum: 11, Count: 3}, sum)

	live, err := repos.Movie.LiveRatings(ctx)
	require.NoError(t, err)
	assert.Equal(t, LiveRating{Sum: 9, Count: 2}, live[m1.ID])
}

func TestEventRepository_Visibility(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	admin := createUser(t, repos, "root", model.RoleAdmin)
	alice := createUser(t, repos, "alice", model.RoleUser)
	bob := createUser(t, repos, "bob", model.RoleUser)

	events := []*model.Event{
		{Type: model.EventReviewCreated, Title: "to admins", Message: "m", Severity: model.SeverityInfo, TargetRole: model.TargetAdmin, IsActive: true, CreatedAt: now.Add(-4 * time.Minute)},
		{Type: model.EventAnnouncement, Title: "to all", Message: "m", Severity: model.SeverityInfo, TargetRole: model.TargetAll, IsActive: true, CreatedAt: now.Add(-3 * time.Minute)},
		{Type: model.EventReviewDeleted, Title: "to alice", Message: "m", Severity: model.SeverityWarning, TargetUserID: &alice.ID, IsActive: true, CreatedAt: now.Add(-2 * time.Minute)},
		{Type: model.EventMaintenance, Title: "expired", Message: "m", Severity: model.SeverityInfo, TargetRole: model.TargetAll, IsActive: true, ExpiresAt: &past, CreatedAt: now.Add(-time.Minute)},
		{Type: model.EventMaintenance, Title: "inactive", Message: "m", Severity: model.SeverityInfo, TargetRole: model.TargetAll, IsActive: false, CreatedAt: now},
	}
	for _, e := range events {
		require.NoError(t, repos.Event.Create(ctx, e))
	}

	titles := func(views []model.EventView) []string {
		out := make([]string, len(views))
		for i, v := range views {
			out[i] = v.Title
		}
		return out
	}

	got, err := repos.Event.ListVisible(ctx, admin.Viewer(), now, false, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"to all", "to admins"}, titles(got))

	got, err = repos.Event.ListVisible(ctx, alice.Viewer(), now, false, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"to alice", "to all"}, titles(got))

	got, err = repos.Event.ListVisible(ctx, bob.Viewer(), now, false, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"to all"}, titles(got))

	count, err := repos.Event.CountVisible(ctx, alice.Viewer(), now, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestEventRepository_ReadReceipts(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	now := time.Now().UTC()
	alice := createUser(t, repos, "alice", model.RoleUser)

	e := &model.Event{Type: model.EventAnnouncement, Title: "hello", Message: "m", Severity: model.SeverityInfo, TargetRole: model.TargetAll, IsActive: true}
	require.NoError(t, repos.Event.Create(ctx, e))

	inserted, err := repos.Event.AddRead(ctx, e.ID, alice.ID, now)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repos.Event.AddRead(ctx, e.ID, alice.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, inserted)

	reads, err := repos.Event.ReadCounts(ctx, []string{e.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), reads[e.ID])

	views, err := repos.Event.ListVisible(ctx, alice.Viewer(), now, false, 0, 20)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].IsReadByUser)

	unread, err := repos.Event.ListVisible(ctx, alice.Viewer(), now, true, 0, 20)
	require.NoError(t, err)
	assert.Empty(t, unread)

	ids, err := repos.Event.VisibleUnreadIDs(ctx, alice.Viewer(), now)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, repos.Event.Delete(ctx, e.ID))
	reads, err = repos.Event.ReadCounts(ctx, []string{e.ID})
	require.NoError(t, err)
	assert.Zero(t, reads[e.ID])
	assert.ErrorIs(t, repos.Event.Delete(ctx, e.ID), ErrNotFound)
}

func TestEventRepository_ListAllFiltersByType(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	for _, typ := range []string{model.EventAnnouncement, model.EventMaintenance, model.EventAnnouncement} {
		require.NoError(t, repos.Event.Create(ctx, &model.Event{Type: typ, Title: "t", Message: "m", Severity: model.SeverityInfo, TargetRole: model.TargetAll}))
	}

	all, total, err := repos.Event.ListAll(ctx, "", 0, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, all, 3)

	filtered, total, err := repos.Event.ListAll(ctx, model.EventAnnouncement, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, filtered, 1)
}
