package repositories

import (
	"context"

	"github.com/langboard/botengine/internal/domain/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BotLogRepository struct {
	*BaseRepository[models.BotLog]
}

func NewBotLogRepository(db *gorm.DB) *BotLogRepository {
	return &BotLogRepository{
		BaseRepository: NewBaseRepository[models.BotLog](db),
	}
}

func (r *BotLogRepository) WithTx(tx *gorm.DB) *BotLogRepository {
	return NewBotLogRepository(tx)
}

func (r *BotLogRepository) CreateWithScope(ctx context.Context, log *models.BotLog, scope *models.BotLogScope) error {
	return r.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(log).Error; err != nil {
			return err
		}
		if scope == nil {
			return nil
		}
		scope.BotLogID = log.ID
		if err := tx.Create(scope).Error; err != nil {
			return err
		}
		log.Scope = scope
		return nil
	})
}

func (r *BotLogRepository) LockByID(ctx context.Context, id models.SnowflakeID) (*models.BotLog, error) {
	var log models.BotLog
	err := r.DB().WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&log, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &log, nil
}

func (r *BotLogRepository) SaveStack(ctx context.Context, log *models.BotLog) error {
	return r.DB().WithContext(ctx).Model(log).
		Select("log_type", "message_stack", "updated_at").
		Updates(log).Error
}

func (r *BotLogRepository) FindByBot(ctx context.Context, botID models.SnowflakeID, opts *ListOptions) ([]models.BotLog, error) {
	var logs []models.BotLog
	query := r.DB().WithContext(ctx).Preload("Scope").Where("bot_id = ?", botID)
	if opts == nil {
		query = query.Order("id ASC")
	}
	err := opts.apply(query).Find(&logs).Error
	return logs, err
}

func (r *BotLogRepository) FindByScope(ctx context.Context, ref models.ScopeRef, opts *ListOptions) ([]models.BotLog, error) {
	var logs []models.BotLog
	query := r.DB().WithContext(ctx).
		Preload("Scope").
		Joins("JOIN bot_log_scopes ON bot_log_scopes.bot_log_id = bot_logs.id").
		Where("bot_log_scopes.scope_kind = ? AND bot_log_scopes.scope_id = ?", ref.Kind, ref.ID)
	if opts == nil {
		query = query.Order("bot_logs.id ASC")
	}
	err := opts.apply(query).Find(&logs).Error
	return logs, err
}

// DeleteByScope purges the logs bound to one scope model.
func (r *BotLogRepository) DeleteByScope(ctx context.Context, ref models.ScopeRef) (int64, error) {
	var deleted int64
	err := r.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []models.SnowflakeID
		if err := tx.Model(&models.BotLogScope{}).
			Where("scope_kind = ? AND scope_id = ?", ref.Kind, ref.ID).
			Pluck("bot_log_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("bot_log_id IN ?", ids).Delete(&models.BotLogScope{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&models.BotLog{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}
