package repositories

import (
	"context"
	"errors"

	"github.com/langboard/botengine/internal/domain/models"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

// ListOptions pages and orders list queries. A nil value lists everything
// in the repository's default order.
type ListOptions struct {
	Offset  int
	Limit   int
	OrderBy string
	Order   string // asc or desc
}

func (o *ListOptions) apply(query *gorm.DB) *gorm.DB {
	if o == nil {
		return query
	}
	if o.OrderBy != "" {
		query = query.Order(o.OrderBy + " " + o.Order)
	}
	if o.Limit > 0 {
		query = query.Offset(o.Offset).Limit(o.Limit)
	}
	return query
}

type BaseRepository[T any] struct {
	db *gorm.DB
}

func NewBaseRepository[T any](db *gorm.DB) *BaseRepository[T] {
	return &BaseRepository[T]{db: db}
}

// DB is the handle the repository was built on, which may be a transaction.
func (r *BaseRepository[T]) DB() *gorm.DB {
	return r.db
}

func (r *BaseRepository[T]) Create(ctx context.Context, entity *T) error {
	return r.db.WithContext(ctx).Create(entity).Error
}

func (r *BaseRepository[T]) Update(ctx context.Context, entity *T) error {
	return r.db.WithContext(ctx).Save(entity).Error
}

func (r *BaseRepository[T]) Delete(ctx context.Context, id models.SnowflakeID) error {
	var entity T
	return r.db.WithContext(ctx).Delete(&entity, "id = ?", id).Error
}

func (r *BaseRepository[T]) FindByID(ctx context.Context, id models.SnowflakeID) (*T, error) {
	var entity T
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &entity, nil
}

func (r *BaseRepository[T]) Exists(ctx context.Context, id models.SnowflakeID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
