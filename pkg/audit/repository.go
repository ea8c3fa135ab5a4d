package audit

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EntryModel struct {
	ID        int64             `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Actor     string            `gorm:"column:actor" json:"actor"`
	Action    string            `gorm:"column:action" json:"action"`
	Entity    string            `gorm:"column:entity" json:"entity"`
	EntityID  string            `gorm:"column:entity_id;index" json:"entity_id"`
	Payload   datatypes.JSONMap `gorm:"column:payload" json:"payload,omitempty"`
	CreatedAt time.Time         `gorm:"column:created_at;index" json:"created_at"`
}

func (EntryModel) TableName() string {
	return "export_audit_logs"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&EntryModel{})
}

func (r *Repository) Record(ctx context.Context, actor, action, entity, entityID string, payload map[string]interface{}) error {
	entry := &EntryModel{
		Actor:     actor,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Payload:   datatypes.JSONMap(payload),
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *Repository) List(ctx context.Context, entityID string, limit int) ([]EntryModel, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if entityID != "" {
		query = query.Where("entity_id = ?", entityID)
	}
	var entries []EntryModel
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteOlderThan purges stale entries; the scheduler calls this from
// its daily maintenance trigger.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&EntryModel{})
	return result.RowsAffected, result.Error
}
