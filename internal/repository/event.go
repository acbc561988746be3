package repository

import (
	"context"
	"errors"
	"time"

	"github.com/user/moovie-reviews/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// visibleTo 与 model.Event.VisibleTo 等价的查询条件
func visibleTo(v model.Viewer, now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("events.is_active = ?", true).
			Where("(events.expires_at IS NULL OR events.expires_at > ?)", now.UTC())
		if v.Role == "" {
			return db.Where("(events.target_user_id = ? OR events.target_role = ?)", v.UserID, model.TargetAll)
		}
		return db.Where("(events.target_user_id = ? OR events.target_role = ? OR events.target_role = ?)",
			v.UserID, v.Role, model.TargetAll)
	}
}

func unreadBy(userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("NOT EXISTS (SELECT 1 FROM event_reads r WHERE r.event_id = events.id AND r.user_id = ?)", userID)
	}
}

// Create 创建事件
func (r *EventRepository) Create(ctx context.Context, event *model.Event) error {
	return r.db.WithContext(ctx).Omit("CreatedBy", "TargetUser").Create(event).Error
}

// FindByID 根据 ID 查找事件
func (r *EventRepository) FindByID(ctx context.Context, id string) (*model.Event, error) {
	var event model.Event
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ListVisible 分页获取对该用户可见的事件，最新在前，附带已读状态
func (r *EventRepository) ListVisible(ctx context.Context, v model.Viewer, now time.Time, unreadOnly bool, offset, limit int) ([]model.EventView, error) {
	q := r.db.WithContext(ctx).Model(&model.Event{}).Scopes(visibleTo(v, now))
	if unreadOnly {
		q = q.Scopes(unreadBy(v.UserID))
	}

	var events []model.Event
	err := q.Preload("CreatedBy").
		Order("events.created_at DESC").Order("events.id DESC").
		Offset(offset).Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return []model.EventView{}, nil
	}

	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	var readIDs []string
	if err := r.db.WithContext(ctx).Model(&model.EventRead{}).
		Where("user_id = ? AND event_id IN ?", v.UserID, ids).
		Pluck("event_id", &readIDs).Error; err != nil {
		return nil, err
	}
	read := make(map[string]struct{}, len(readIDs))
	for _, id := range readIDs {
		read[id] = struct{}{}
	}

	views := make([]model.EventView, len(events))
	for i, e := range events {
		_, ok := read[e.ID]
		views[i] = model.EventView{Event: e, IsReadByUser: ok}
	}
	return views, nil
}

// CountVisible 可见事件数量，unreadOnly 时只统计未读
func (r *EventRepository) CountVisible(ctx context.Context, v model.Viewer, now time.Time, unreadOnly bool) (int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Event{}).Scopes(visibleTo(v, now))
	if unreadOnly {
		q = q.Scopes(unreadBy(v.UserID))
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}

// VisibleUnreadIDs 当前可见且未读的事件 ID
func (r *EventRepository) VisibleUnreadIDs(ctx context.Context, v model.Viewer, now time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Event{}).
		Scopes(visibleTo(v, now), unreadBy(v.UserID)).
		Pluck("events.id", &ids).Error
	return ids, err
}

// AddRead 追加已读回执，已存在时不做修改，返回是否新写入
func (r *EventRepository) AddRead(ctx context.Context, eventID, userID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.EventRead{EventID: eventID, UserID: userID, ReadAt: at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReadCounts 每个事件的已读回执数量
func (r *EventRepository) ReadCounts(ctx context.Context, eventIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(eventIDs))
	if len(eventIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		EventID string
		Count   int64
	}
	err := r.db.WithContext(ctx).Model(&model.EventRead{}).
		Select("event_id, COUNT(*) AS count").
		Where("event_id IN ?", eventIDs).
		Group("event_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.EventID] = row.Count
	}
	return out, nil
}

// ListAll 管理员查看全部事件，可按类型过滤
func (r *EventRepository) ListAll(ctx context.Context, eventType string, offset, limit int) ([]model.Event, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Event{})
	if eventType != "" {
		q = q.Where("type = ?", eventType)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []model.Event
	err := q.Preload("CreatedBy").Preload("TargetUser").
		Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&events).Error
	return events, total, err
}

// Delete 硬删除事件及其已读回执
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", id).Delete(&model.EventRead{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Event{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
