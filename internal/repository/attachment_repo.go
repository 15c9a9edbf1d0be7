package repository

import (
	"time"

	"github.com/pccr10001/modemd/internal/model"
	"gorm.io/gorm"
)

type AttachmentRepository struct {
	db *gorm.DB
}

func NewAttachmentRepository(db *gorm.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

func (r *AttachmentRepository) Create(a *model.Attachment) error {
	return r.db.Create(a).Error
}

func (r *AttachmentRepository) Save(a *model.Attachment) error {
	return r.db.Save(a).Error
}

func (r *AttachmentRepository) FindByHandle(handle string) (*model.Attachment, error) {
	var a model.Attachment
	err := r.db.First(&a, "handle = ?", handle).Error
	return &a, err
}

// List returns the most recent attachments first.
func (r *AttachmentRepository) List(limit int) ([]model.Attachment, error) {
	var list []model.Attachment
	q := r.db.Order("attached_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&list).Error
	return list, err
}

func (r *AttachmentRepository) MarkDetached(handle string, at time.Time) error {
	return r.db.Model(&model.Attachment{}).
		Where("handle = ?", handle).
		Updates(map[string]interface{}{"status": "detached", "detached_at": at, "last_seen": at}).Error
}

// MarkAllDetached closes attachments left open by a previous run.
func (r *AttachmentRepository) MarkAllDetached() error {
	now := time.Now()
	return r.db.Model(&model.Attachment{}).
		Where("status <> ?", "detached").
		Updates(map[string]interface{}{"status": "detached", "detached_at": now}).Error
}
