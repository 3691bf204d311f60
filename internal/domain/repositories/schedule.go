package repositories

import (
	"context"
	"time"

	"github.com/langboard/botengine/internal/domain/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScheduleKey is the (interval, status) pair a cron comment stands for.
type ScheduleKey struct {
	IntervalStr string
	Status      models.BotScheduleStatus
}

type BotScheduleRepository struct {
	*BaseRepository[models.BotSchedule]
}

func NewBotScheduleRepository(db *gorm.DB) *BotScheduleRepository {
	return &BotScheduleRepository{
		BaseRepository: NewBaseRepository[models.BotSchedule](db),
	}
}

func (r *BotScheduleRepository) WithTx(tx *gorm.DB) *BotScheduleRepository {
	return NewBotScheduleRepository(tx)
}

func (r *BotScheduleRepository) CreateWithScope(ctx context.Context, schedule *models.BotSchedule, scoped *models.BotScopedSchedule) error {
	db := r.DB().WithContext(ctx)
	if err := db.Omit(clause.Associations).Create(schedule).Error; err != nil {
		return err
	}
	scoped.BotScheduleID = schedule.ID
	if err := db.Create(scoped).Error; err != nil {
		return err
	}
	schedule.Scoped = scoped
	return nil
}

func (r *BotScheduleRepository) FindWithScope(ctx context.Context, id models.SnowflakeID) (*models.BotSchedule, error) {
	var schedule models.BotSchedule
	err := r.DB().WithContext(ctx).Preload("Scoped").First(&schedule, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &schedule, nil
}

// LockByID re-reads a schedule under a row lock.
func (r *BotScheduleRepository) LockByID(ctx context.Context, id models.SnowflakeID) (*models.BotSchedule, error) {
	var schedule models.BotSchedule
	err := r.DB().WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Scoped").
		First(&schedule, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &schedule, nil
}

// LockByInterval locks every schedule sharing intervalStr, whatever its
// status, so reference counts on that interval cannot change underneath.
func (r *BotScheduleRepository) LockByInterval(ctx context.Context, intervalStr string) ([]models.BotSchedule, error) {
	var schedules []models.BotSchedule
	err := r.DB().WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("interval_str = ?", intervalStr).
		Order("id ASC").
		Find(&schedules).Error
	return schedules, err
}

func (r *BotScheduleRepository) CountByKey(ctx context.Context, key ScheduleKey) (int64, error) {
	var count int64
	err := r.DB().WithContext(ctx).Model(&models.BotSchedule{}).
		Where("interval_str = ? AND status = ?", key.IntervalStr, key.Status).
		Count(&count).Error
	return count, err
}

func (r *BotScheduleRepository) FindByKey(ctx context.Context, key ScheduleKey) ([]models.BotSchedule, error) {
	var schedules []models.BotSchedule
	err := r.DB().WithContext(ctx).
		Preload("Scoped").
		Where("interval_str = ? AND status = ?", key.IntervalStr, key.Status).
		Order("id ASC").
		Find(&schedules).Error
	return schedules, err
}

// FindByScope returns the schedules anchored to one scope model, optionally
// narrowed to a bot.
func (r *BotScheduleRepository) FindByScope(ctx context.Context, ref models.ScopeRef, botID *models.SnowflakeID) ([]models.BotSchedule, error) {
	var schedules []models.BotSchedule
	query := r.DB().WithContext(ctx).
		Preload("Scoped").
		Joins("JOIN bot_scoped_schedules ON bot_scoped_schedules.bot_schedule_id = bot_schedules.id").
		Where("bot_scoped_schedules.scope_kind = ? AND bot_scoped_schedules.scope_id = ?", ref.Kind, ref.ID)
	if botID != nil {
		query = query.Where("bot_schedules.bot_id = ?", *botID)
	}
	err := query.Order("bot_schedules.id ASC").Find(&schedules).Error
	return schedules, err
}

func (r *BotScheduleRepository) FindByBot(ctx context.Context, botID models.SnowflakeID) ([]models.BotSchedule, error) {
	var schedules []models.BotSchedule
	err := r.DB().WithContext(ctx).
		Preload("Scoped").
		Where("bot_id = ?", botID).
		Order("id ASC").
		Find(&schedules).Error
	return schedules, err
}

func (r *BotScheduleRepository) UpdateFields(ctx context.Context, id models.SnowflakeID, fields map[string]interface{}) error {
	return r.DB().WithContext(ctx).Model(&models.BotSchedule{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *BotScheduleRepository) RecordRun(ctx context.Context, id models.SnowflakeID, at time.Time) error {
	return r.DB().WithContext(ctx).Model(&models.BotSchedule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_run_at": at,
			"run_count":   gorm.Expr("run_count + 1"),
		}).Error
}

// DeleteByIDs removes the schedules and their scope anchors, one statement
// per table. It returns the number of schedules deleted.
func (r *BotScheduleRepository) DeleteByIDs(ctx context.Context, ids []models.SnowflakeID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	db := r.DB().WithContext(ctx)
	if err := db.Where("bot_schedule_id IN ?", ids).Delete(&models.BotScopedSchedule{}).Error; err != nil {
		return 0, err
	}
	res := db.Where("id IN ?", ids).Delete(&models.BotSchedule{})
	return res.RowsAffected, res.Error
}

// Keys lists the distinct (interval, status) pairs currently in use.
func (r *BotScheduleRepository) Keys(ctx context.Context) ([]ScheduleKey, error) {
	var keys []ScheduleKey
	err := r.DB().WithContext(ctx).Model(&models.BotSchedule{}).
		Distinct("interval_str", "status").
		Order("interval_str ASC").
		Scan(&keys).Error
	return keys, err
}
