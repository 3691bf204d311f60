package repositories

import (
	"context"

	"github.com/langboard/botengine/internal/domain/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BotScopeFilter struct {
	BotID     *models.SnowflakeID
	ScopeKind models.ScopeKind
	ScopeID   *models.SnowflakeID
}

type BotScopeRepository struct {
	*BaseRepository[models.BotScope]
}

func NewBotScopeRepository(db *gorm.DB) *BotScopeRepository {
	return &BotScopeRepository{
		BaseRepository: NewBaseRepository[models.BotScope](db),
	}
}

func (r *BotScopeRepository) WithTx(tx *gorm.DB) *BotScopeRepository {
	return NewBotScopeRepository(tx)
}

// Upsert inserts the scope or replaces the conditions of the existing row
// for the same (bot, kind, scope id).
func (r *BotScopeRepository) Upsert(ctx context.Context, scope *models.BotScope) error {
	return r.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bot_id"}, {Name: "scope_kind"}, {Name: "scope_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"conditions", "updated_at"}),
	}).Create(scope).Error
}

func (r *BotScopeRepository) FindTarget(ctx context.Context, botID models.SnowflakeID, ref models.ScopeRef) (*models.BotScope, error) {
	var scope models.BotScope
	err := r.DB().WithContext(ctx).
		Where("bot_id = ? AND scope_kind = ? AND scope_id = ?", botID, ref.Kind, ref.ID).
		First(&scope).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &scope, nil
}

// FindByScope returns every subscription on one scope model with its bot.
func (r *BotScopeRepository) FindByScope(ctx context.Context, ref models.ScopeRef) ([]models.BotScope, error) {
	var scopes []models.BotScope
	err := r.DB().WithContext(ctx).
		Preload("Bot").
		Where("scope_kind = ? AND scope_id = ?", ref.Kind, ref.ID).
		Order("id ASC").
		Find(&scopes).Error
	return scopes, err
}

func (r *BotScopeRepository) List(ctx context.Context, filter BotScopeFilter) ([]models.BotScope, error) {
	var scopes []models.BotScope
	query := r.DB().WithContext(ctx).Model(&models.BotScope{})
	if filter.BotID != nil {
		query = query.Where("bot_id = ?", *filter.BotID)
	}
	if filter.ScopeKind != "" {
		query = query.Where("scope_kind = ?", filter.ScopeKind)
	}
	if filter.ScopeID != nil {
		query = query.Where("scope_id = ?", *filter.ScopeID)
	}
	err := query.Order("id ASC").Find(&scopes).Error
	return scopes, err
}

func (r *BotScopeRepository) UpdateConditions(ctx context.Context, scope *models.BotScope) error {
	return r.DB().WithContext(ctx).Model(scope).
		Select("conditions", "updated_at").
		Updates(scope).Error
}

func (r *BotScopeRepository) DeleteByScope(ctx context.Context, ref models.ScopeRef) (int64, error) {
	res := r.DB().WithContext(ctx).
		Where("scope_kind = ? AND scope_id = ?", ref.Kind, ref.ID).
		Delete(&models.BotScope{})
	return res.RowsAffected, res.Error
}

func (r *BotScopeRepository) DeleteByBot(ctx context.Context, botID models.SnowflakeID) (int64, error) {
	res := r.DB().WithContext(ctx).Where("bot_id = ?", botID).Delete(&models.BotScope{})
	return res.RowsAffected, res.Error
}

func (r *BotScopeRepository) LockByID(ctx context.Context, id models.SnowflakeID) (*models.BotScope, error) {
	var scope models.BotScope
	err := r.DB().WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&scope, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &scope, nil
}
