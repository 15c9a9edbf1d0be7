package repository

import (
	"github.com/pccr10001/modemd/internal/model"
	"gorm.io/gorm"
)

type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

func (r *PositionRepository) Create(p *model.Position) error {
	return r.db.Create(p).Error
}

func (r *PositionRepository) Latest(handle string) (*model.Position, error) {
	var p model.Position
	err := r.db.Where("handle = ?", handle).Order("fix_time desc").First(&p).Error
	return &p, err
}

func (r *PositionRepository) FindByHandle(handle string, limit int) ([]model.Position, error) {
	var list []model.Position
	q := r.db.Where("handle = ?", handle).Order("fix_time desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&list).Error
	return list, err
}
