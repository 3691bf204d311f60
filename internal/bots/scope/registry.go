// Package scope manages bot subscriptions to scope models and the trigger
// conditions enabled on each.
package scope

import (
	"context"
	"errors"
	"fmt"

	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/domain/repositories"
	"github.com/langboard/botengine/internal/pkg/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound     = errors.New("bot scope not found")
	ErrBotNotFound  = errors.New("bot not found")
	ErrInvalidInput = errors.New("invalid bot scope input")
)

type Registry struct {
	db     *gorm.DB
	scopes *repositories.BotScopeRepository
	bots   *repositories.BotRepository
}

func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{
		db:     db,
		scopes: repositories.NewBotScopeRepository(db),
		bots:   repositories.NewBotRepository(db),
	}
}

type CreateInput struct {
	BotID      models.SnowflakeID
	Scope      models.ScopeRef
	Conditions []models.TriggerCondition
}

// Create subscribes a bot to a scope model. Conditions the scope kind does
// not accept are dropped. An existing subscription for the same bot and
// scope has its conditions replaced.
func (r *Registry) Create(ctx context.Context, input CreateInput) (*models.BotScope, error) {
	if !input.Scope.Kind.Valid() || input.Scope.ID.IsZero() {
		return nil, fmt.Errorf("%w: scope %s", ErrInvalidInput, input.Scope)
	}
	exists, err := r.bots.Exists(ctx, input.BotID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrBotNotFound
	}

	scope := &models.BotScope{
		BotID:      input.BotID,
		ScopeKind:  input.Scope.Kind,
		ScopeID:    input.Scope.ID,
		Conditions: datatypes.JSONSlice[models.TriggerCondition](FilterConditions(input.Scope.Kind, input.Conditions)),
	}
	if err := r.scopes.Upsert(ctx, scope); err != nil {
		return nil, err
	}

	// the upsert may have hit an existing row with a different id
	saved, err := r.scopes.FindTarget(ctx, input.BotID, input.Scope)
	if err != nil {
		return nil, err
	}

	l := logger.WithBotID(input.BotID.String())
	l.Info().
		Str("scope", input.Scope.String()).
		Int("conditions", len(saved.Conditions)).
		Msg("Bot scope saved")
	return saved, nil
}

// Toggle flips one condition on a subscription and reports whether the set
// changed. Conditions outside the scope kind's allowed set are ignored.
func (r *Registry) Toggle(ctx context.Context, id models.SnowflakeID, condition models.TriggerCondition) (bool, error) {
	changed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := r.scopes.WithTx(tx)
		scope, err := repo.LockByID(ctx, id)
		if err != nil {
			return mapNotFound(err)
		}
		if !scope.ScopeKind.Allows(condition) {
			return nil
		}

		next := make([]models.TriggerCondition, 0, len(scope.Conditions)+1)
		if scope.HasCondition(condition) {
			for _, c := range scope.Conditions {
				if c != condition {
					next = append(next, c)
				}
			}
		} else {
			next = append(append(next, scope.Conditions...), condition)
		}
		scope.Conditions = datatypes.JSONSlice[models.TriggerCondition](next)
		if err := repo.UpdateConditions(ctx, scope); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

func (r *Registry) Get(ctx context.Context, id models.SnowflakeID) (*models.BotScope, error) {
	scope, err := r.scopes.FindByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return scope, nil
}

func (r *Registry) Delete(ctx context.Context, id models.SnowflakeID) error {
	scope, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.scopes.Delete(ctx, id); err != nil {
		return err
	}
	l := logger.WithBotID(scope.BotID.String())
	l.Info().Str("scope", scope.Ref().String()).Msg("Bot scope deleted")
	return nil
}

// DeleteByScope removes every subscription on a scope model.
func (r *Registry) DeleteByScope(ctx context.Context, ref models.ScopeRef) (int64, error) {
	return r.scopes.DeleteByScope(ctx, ref)
}

func (r *Registry) DeleteByBot(ctx context.Context, botID models.SnowflakeID) (int64, error) {
	return r.scopes.DeleteByBot(ctx, botID)
}

// WithTx returns a registry bound to tx, for cascades that must commit
// together with other deletes.
func (r *Registry) WithTx(tx *gorm.DB) *Registry {
	return NewRegistry(tx)
}

type Filter = repositories.BotScopeFilter

func (r *Registry) List(ctx context.Context, filter Filter) ([]models.BotScope, error) {
	return r.scopes.List(ctx, filter)
}

// Subscribers returns the subscriptions on one scope model with their bots
// loaded.
func (r *Registry) Subscribers(ctx context.Context, ref models.ScopeRef) ([]models.BotScope, error) {
	return r.scopes.FindByScope(ctx, ref)
}

// FilterConditions keeps the conditions kind accepts, first occurrence wins.
func FilterConditions(kind models.ScopeKind, conditions []models.TriggerCondition) []models.TriggerCondition {
	out := make([]models.TriggerCondition, 0, len(conditions))
	seen := make(map[models.TriggerCondition]struct{}, len(conditions))
	for _, c := range conditions {
		if _, dup := seen[c]; dup || !kind.Allows(c) {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func mapNotFound(err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
