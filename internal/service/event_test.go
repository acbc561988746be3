package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/moovie-reviews/internal/model"
)

func TestEventService_CreateDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.events.Create(ctx, CreateEventInput{
		Type:    model.EventAnnouncement,
		Title:   "  新功能  ",
		Message: "上线了",
	})
	require.NoError(t, err)
	assert.Equal(t, "新功能", ev.Title)
	assert.Equal(t, model.SeverityInfo, ev.Severity)
	assert.Equal(t, model.TargetAll, ev.TargetRole)
	assert.True(t, ev.IsActive)
	assert.Nil(t, ev.TargetUserID)

	alice := env.user(t, "alice", model.RoleUser)
	ev, err = env.events.Create(ctx, CreateEventInput{
		Type:         model.EventReviewDeleted,
		Title:        "评论已被删除",
		Message:      "m",
		TargetUserID: alice.ID,
	})
	require.NoError(t, err)
	assert.Empty(t, ev.TargetRole, "targeted events do not default to all")
	require.NotNil(t, ev.TargetUserID)
	assert.Equal(t, alice.ID, *ev.TargetUserID)
}

func TestEventService_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	base := CreateEventInput{Type: model.EventAnnouncement, Title: "t", Message: "m"}

	tests := []struct {
		name  string
		edit  func(*CreateEventInput)
		field string
	}{
		{"unknown type", func(in *CreateEventInput) { in.Type = "party" }, "type"},
		{"blank title", func(in *CreateEventInput) { in.Title = "   " }, "title"},
		{"long title", func(in *CreateEventInput) { in.Title = strings.Repeat("a", model.MaxEventTitleLength+1) }, "title"},
		{"blank message", func(in *CreateEventInput) { in.Message = "" }, "message"},
		{"long message", func(in *CreateEventInput) { in.Message = strings.Repeat("字", model.MaxEventMessageLength+1) }, "message"},
		{"bad severity", func(in *CreateEventInput) { in.Severity = "fatal" }, "severity"},
		{"bad target", func(in *CreateEventInput) { in.TargetRole = "guest" }, "target_role"},
		{"bad entity", func(in *CreateEventInput) {
			in.RelatedEntity = &model.RelatedEntity{Type: "genre", ID: "x"}
		}, "related_entity.type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.edit(&in)
			_, err := env.events.Create(context.Background(), in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestEventService_ListForUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.user(t, "admin", model.RoleAdmin)
	alice := env.user(t, "alice", model.RoleUser)
	bob := env.user(t, "bobby", model.RoleUser)

	for _, in := range []CreateEventInput{
		{Type: model.EventReviewCreated, Title: "to admins", Message: "m", TargetRole: model.TargetAdmin},
		{Type: model.EventAnnouncement, Title: "to all", Message: "m"},
		{Type: model.EventReviewDeleted, Title: "to alice", Message: "m", TargetUserID: alice.ID},
		{Type: model.EventMaintenance, Title: "to users and alice", Message: "m", TargetUserID: alice.ID, TargetRole: model.TargetUser},
	} {
		_, err := env.events.Create(ctx, in)
		require.NoError(t, err)
	}

	out, err := env.events.ListForUser(ctx, ListForUserInput{Viewer: alice.Viewer()})
	require.NoError(t, err)
	assert.Len(t, out.Events, 3)
	assert.Equal(t, int64(3), out.UnreadCount)
	assert.Equal(t, Pagination{Page: 1, Limit: defaultEventPageSize, Total: 3, Pages: 1}, out.Pagination)

	out, err = env.events.ListForUser(ctx, ListForUserInput{Viewer: bob.Viewer()})
	require.NoError(t, err)
	assert.Len(t, out.Events, 2, "bob sees the broadcast and the user-role event")

	out, err = env.events.ListForUser(ctx, ListForUserInput{Viewer: admin.Viewer()})
	require.NoError(t, err)
	assert.Len(t, out.Events, 2)

	out, err = env.events.ListForUser(ctx, ListForUserInput{Viewer: alice.Viewer(), Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, out.Events, 1)
	assert.Equal(t, 2, out.Pagination.Pages)
}

func TestEventService_ExpiredAndInactiveHidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice", model.RoleUser)

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, env.repos.Event.Create(ctx, &model.Event{
		Type: model.EventMaintenance, Title: "expired", Message: "m", Severity: model.SeverityInfo,
		TargetRole: model.TargetAll, IsActive: true, ExpiresAt: &past,
	}))
	hidden := &model.Event{
		Type: model.EventMaintenance, Title: "inactive", Message: "m", Severity: model.SeverityInfo,
		TargetRole: model.TargetAll, IsActive: false,
	}
	require.NoError(t, env.repos.Event.Create(ctx, hidden))

	out, err := env.events.ListForUser(ctx, ListForUserInput{Viewer: alice.Viewer()})
	require.NoError(t, err)
	assert.Empty(t, out.Events)
	assert.Zero(t, out.UnreadCount)

	_, err = env.events.MarkRead(ctx, alice.Viewer(), hidden.ID)
	assert.ErrorIs(t, err, ErrEventNotVisible)
}

func TestEventService_MarkRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice", model.RoleUser)
	bob := env.user(t, "bobby", model.RoleUser)

	ev, err := env.events.Create(ctx, CreateEventInput{Type: model.EventReviewDeleted, Title: "t", Message: "m", TargetUserID: alice.ID})
	require.NoError(t, err)

	res, err := env.events.MarkRead(ctx, alice.Viewer(), ev.ID)
	require.NoError(t, err)
	assert.False(t, res.AlreadyRead)

	res, err = env.events.MarkRead(ctx, alice.Viewer(), ev.ID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyRead)

	counts, err := env.repos.Event.ReadCounts(ctx, []string{ev.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[ev.ID])

	_, err = env.events.MarkRead(ctx, bob.Viewer(), ev.ID)
	assert.ErrorIs(t, err, ErrEventNotVisible)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.events.MarkRead(ctx, alice.Viewer(), "missing")
	assert.ErrorIs(t, err, ErrEventNotFound)

	out, err := env.events.ListForUser(ctx, ListForUserInput{Viewer: alice.Viewer()})
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.True(t, out.Events[0].IsReadByUser)
	assert.Zero(t, out.UnreadCount)

	unread, err := env.events.ListForUser(ctx, ListForUserInput{Viewer: alice.Viewer(), UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread.Events)
}

func TestEventService_MarkAllRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice", model.RoleUser)

	for i := 0; i < 5; i++ {
		_, err := env.events.Create(ctx, CreateEventInput{Type: model.EventAnnouncement, Title: "t", Message: "m"})
		require.NoError(t, err)
	}
	first, err := env.events.ListForUser(ctx, ListForUserInput{Viewer: alice.Viewer(), Limit: 1})
	require.NoError(t, err)
	_, err = env.events.MarkRead(ctx, alice.Viewer(), first.Events[0].ID)
	require.NoError(t, err)

	res, err := env.events.MarkAllRead(ctx, alice.Viewer())
	require.NoError(t, err)
	assert.Equal(t, &MarkAllReadOutput{Marked: 4}, res)

	res, err = env.events.MarkAllRead(ctx, alice.Viewer())
	require.NoError(t, err)
	assert.Equal(t, &MarkAllReadOutput{}, res)

	out, err := env.events.ListForUser(ctx, ListForUserInput{Viewer: alice.Viewer()})
	require.NoError(t, err)
	assert.Zero(t, out.UnreadCount)
}

func TestEventService_MarkAllReadPartialFailure(t *testing.T) {
	var flaky *flakyReads
	env := newTestEnv(t, withEventStore(func(s EventStore) EventStore {
		flaky = &flakyReads{EventStore: s}
		return flaky
	}))
	ctx := context.Background()
	alice := env.user(t, "alice", model.RoleUser)

	bad, err := env.events.Create(ctx, CreateEventInput{Type: model.EventAnnouncement, Title: "bad", Message: "m"})
	require.NoError(t, err)
	_, err = env.events.Create(ctx, CreateEventInput{Type: model.EventAnnouncement, Title: "good", Message: "m"})
	require.NoError(t, err)
	flaky.failID = bad.ID

	res, err := env.events.MarkAllRead(ctx, alice.Viewer())
	require.NoError(t, err)
	assert.Equal(t, &MarkAllReadOutput{Marked: 1, Failed: 1}, res)

	out, err := env.events.ListForUser(ctx, ListForUserInput{Viewer: alice.Viewer(), UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.Equal(t, bad.ID, out.Events[0].ID)
}

func TestEventService_AdminOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.user(t, "admin", model.RoleAdmin)
	alice := env.user(t, "alice", model.RoleUser)

	_, err := env.events.CreateSystemMessage(ctx, alice.Viewer(), SystemMessageInput{Title: "t", Message: "m"})
	assert.ErrorIs(t, err, ErrAdminOnly)

	past := time.Now().UTC().Add(-time.Hour)
	_, err = env.events.CreateSystemMessage(ctx, admin.Viewer(), SystemMessageInput{Title: "t", Message: "m", ExpiresAt: &past})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "expires_at", verr.Field)

	future := time.Now().UTC().Add(time.Hour)
	msg, err := env.events.CreateSystemMessage(ctx, admin.Viewer(), SystemMessageInput{
		Title: "维护通知", Message: "今晚维护", Severity: model.SeverityWarning, ExpiresAt: &future,
	})
	require.NoError(t, err)
	assert.Equal(t, model.EventSystemMessage, msg.Type)
	assert.Equal(t, model.TargetAll, msg.TargetRole)
	require.NotNil(t, msg.CreatedByID)
	assert.Equal(t, admin.ID, *msg.CreatedByID)

	_, err = env.events.Create(ctx, CreateEventInput{Type: model.EventMaintenance, Title: "t", Message: "m", TargetRole: model.TargetAdmin})
	require.NoError(t, err)
	_, err = env.events.MarkRead(ctx, alice.Viewer(), msg.ID)
	require.NoError(t, err)

	_, err = env.events.ListAll(ctx, alice.Viewer(), ListAllInput{})
	assert.ErrorIs(t, err, ErrAdminOnly)

	all, err := env.events.ListAll(ctx, admin.Viewer(), ListAllInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.Pagination.Total)
	assert.Equal(t, defaultAdminEventPageSize, all.Pagination.Limit)

	filtered, err := env.events.ListAll(ctx, admin.Viewer(), ListAllInput{Type: model.EventSystemMessage})
	require.NoError(t, err)
	require.Len(t, filtered.Events, 1)
	assert.Equal(t, int64(1), filtered.Events[0].ReadCount)

	_, err = env.events.ListAll(ctx, admin.Viewer(), ListAllInput{Type: "nope"})
	require.ErrorAs(t, err, &verr)

	assert.ErrorIs(t, env.events.Delete(ctx, alice.Viewer(), msg.ID), ErrAdminOnly)
	require.NoError(t, env.events.Delete(ctx, admin.Viewer(), msg.ID))
	assert.ErrorIs(t, env.events.Delete(ctx, admin.Viewer(), msg.ID), ErrEventNotFound)

	types := env.eventTypes(t, alice.Viewer())
	assert.Empty(t, types)
}

func TestEventService_NotifyFailureIsContained(t *testing.T) {
	env := newTestEnv(t, withEventStore(func(s EventStore) EventStore { return failingEventCreate{s} }))
	res := env.events.Notify(context.Background(), env.effects, CreateEventInput{Type: model.EventAnnouncement, Title: "t", Message: "m"})
	assert.False(t, res.OK)
	assert.Equal(t, "event:"+model.EventAnnouncement, res.Name)
}

func TestEventService_ExpiryWithZoneOffset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice", model.RoleUser)

	tokyo := time.FixedZone("UTC+9", 9*60*60)
	newYork := time.FixedZone("UTC-5", -5*60*60)
	expired := time.Now().Add(-time.Hour).In(tokyo)
	live := time.Now().Add(time.Hour).In(newYork)

	gone, err := env.events.Create(ctx, CreateEventInput{
		Type: model.EventMaintenance, Title: "expired", Message: "m", ExpiresAt: &expired,
	})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, gone.ExpiresAt.Location())
	assert.True(t, gone.ExpiresAt.Equal(expired))

	kept, err := env.events.Create(ctx, CreateEventInput{
		Type: model.EventMaintenance, Title: "live", Message: "m", ExpiresAt: &live,
	})
	require.NoError(t, err)

	out, err := env.events.ListForUser(ctx, ListForUserInput{Viewer: alice.Viewer()})
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.Equal(t, kept.ID, out.Events[0].ID)
	assert.Equal(t, int64(1), out.Pagination.Total)
	assert.Equal(t, int64(1), out.UnreadCount)

	// 查询条件与 Go 端判断一致
	_, err = env.events.MarkRead(ctx, alice.Viewer(), gone.ID)
	assert.ErrorIs(t, err, ErrEventNotVisible)
}

func TestEventService_ExpiryOffsetStoredDirectly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice", model.RoleUser)

	expired := time.Now().Add(-time.Hour).In(time.FixedZone("UTC+9", 9*60*60))
	require.NoError(t, env.repos.Event.Create(ctx, &model.Event{
		Type: model.EventMaintenance, Title: "expired", Message: "m", Severity: model.SeverityInfo,
		TargetRole: model.TargetAll, IsActive: true, ExpiresAt: &expired,
	}))

	out, err := env.events.ListForUser(ctx, ListForUserInput{Viewer: alice.Viewer()})
	require.NoError(t, err)
	assert.Empty(t, out.Events)
	assert.Zero(t, out.Pagination.Total)
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, event *model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, event.ID)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestEventService_PublishesCreatedEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pub := &recordingPublisher{}
	events := NewEventService(env.repos.Event, pub, env.metrics, zerolog.Nop())
	ev, err := events.Create(ctx, CreateEventInput{Type: model.EventAnnouncement, Title: "t", Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, []string{ev.ID}, pub.published)

	// 校验失败的事件不广播
	_, err = events.Create(ctx, CreateEventInput{Type: "bogus", Title: "t", Message: "m"})
	require.Error(t, err)
	assert.Len(t, pub.published, 1)
}

func TestEventService_PublishFailureDoesNotFailCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pub := &recordingPublisher{err: errInjected}
	events := NewEventService(env.repos.Event, pub, env.metrics, zerolog.Nop())
	ev, err := events.Create(ctx, CreateEventInput{Type: model.EventAnnouncement, Title: "t", Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, []string{ev.ID}, pub.published)

	stored, err := env.repos.Event.FindByID(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}
