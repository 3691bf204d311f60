package repositories

import (
	"context"

	"github.com/langboard/botengine/internal/domain/models"
	"gorm.io/gorm"
)

type BotRepository struct {
	*BaseRepository[models.Bot]
}

func NewBotRepository(db *gorm.DB) *BotRepository {
	return &BotRepository{
		BaseRepository: NewBaseRepository[models.Bot](db),
	}
}

func (r *BotRepository) FindByUname(ctx context.Context, uname string) (*models.Bot, error) {
	var bot models.Bot
	if err := r.DB().WithContext(ctx).Where("uname = ?", uname).First(&bot).Error; err != nil {
		return nil, notFound(err)
	}
	return &bot, nil
}

// FindByIDs returns the bots keyed by id. Missing ids are absent from the map.
func (r *BotRepository) FindByIDs(ctx context.Context, ids []models.SnowflakeID) (map[models.SnowflakeID]*models.Bot, error) {
	out := make(map[models.SnowflakeID]*models.Bot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var bots []models.Bot
	if err := r.DB().WithContext(ctx).Where("id IN ?", ids).Find(&bots).Error; err != nil {
		return nil, err
	}
	for i := range bots {
		out[bots[i].ID] = &bots[i]
	}
	return out, nil
}
