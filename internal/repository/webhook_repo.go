package repository

import (
	"github.com/pccr10001/modemd/internal/model"
	"gorm.io/gorm"
)

type WebhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Create(webhook *model.Webhook) error {
	if webhook.Family == "" {
		webhook.Family = "*"
	}
	return r.db.Create(webhook).Error
}

func (r *WebhookRepository) List() ([]model.Webhook, error) {
	var list []model.Webhook
	err := r.db.Order("id").Find(&list).Error
	return list, err
}

// FindByFamily returns the enabled webhooks for a family, including the
// catch-all ones.
func (r *WebhookRepository) FindByFamily(family string) ([]model.Webhook, error) {
	var list []model.Webhook
	err := r.db.Where("(family = ? OR family = ?) AND enabled = ?", family, "*", true).Find(&list).Error
	return list, err
}

func (r *WebhookRepository) Delete(id uint) error {
	return r.db.Delete(&model.Webhook{}, id).Error
}
