// Package botlog records the ordered message stack of every dispatch and
// publishes it as it grows.
package botlog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/langboard/botengine/internal/bots/events"
	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/domain/repositories"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("bot log not found")

type Stream struct {
	db        *gorm.DB
	logs      *repositories.BotLogRepository
	publisher events.Publisher
	now       func() time.Time
}

func NewStream(db *gorm.DB, publisher events.Publisher) *Stream {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Stream{
		db:        db,
		logs:      repositories.NewBotLogRepository(db),
		publisher: publisher,
		now:       time.Now,
	}
}

// Handle is a live log. Appends through one handle are serialized, so frames
// and their publications keep call order.
type Handle struct {
	mu        sync.Mutex
	log       *models.BotLog
	projectID *models.SnowflakeID
}

func (h *Handle) ID() models.SnowflakeID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log.ID
}

// Snapshot returns a copy of the log as last written.
func (h *Handle) Snapshot() models.BotLog {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *h.log
	cp.MessageStack = append(datatypes.JSONSlice[models.LogFrame](nil), h.log.MessageStack...)
	return cp
}

// Create starts a log with its first frame. scope may be zero; projectID
// routes the published events to the project room.
func (s *Stream) Create(ctx context.Context, botID models.SnowflakeID, logType models.BotLogType, message string, scope models.ScopeRef, projectID *models.SnowflakeID) (*Handle, error) {
	entry := &models.BotLog{
		BotID:        botID,
		LogType:      logType,
		MessageStack: datatypes.JSONSlice[models.LogFrame]{s.frame(logType, message)},
	}
	var bound *models.BotLogScope
	if !scope.IsZero() {
		bound = &models.BotLogScope{ScopeKind: scope.Kind, ScopeID: scope.ID, ProjectID: projectID}
	}
	if err := s.logs.CreateWithScope(ctx, entry, bound); err != nil {
		return nil, err
	}

	if err := events.LogCreated(ctx, s.publisher, entry, projectID); err != nil {
		log.Warn().Err(err).Str("log_id", entry.ID.String()).Msg("Failed to publish bot log creation")
	}
	return &Handle{log: entry, projectID: projectID}, nil
}

// Append adds a frame under a row lock and makes it the log's current type.
func (s *Stream) Append(ctx context.Context, h *Handle, logType models.BotLogType, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	frame := s.frame(logType, message)
	var saved *models.BotLog
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.logs.WithTx(tx)
		current, err := repo.LockByID(ctx, h.log.ID)
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		current.MessageStack = append(current.MessageStack, frame)
		current.LogType = logType
		current.UpdatedAt = frame.Timestamp
		if err := repo.SaveStack(ctx, current); err != nil {
			return err
		}
		saved = current
		return nil
	})
	if err != nil {
		return err
	}

	saved.Scope = h.log.Scope
	h.log = saved
	if err := events.LogStackAdded(ctx, s.publisher, saved, frame, h.projectID); err != nil {
		log.Warn().Err(err).Str("log_id", saved.ID.String()).Msg("Failed to publish bot log frame")
	}
	return nil
}

func (s *Stream) Get(ctx context.Context, id models.SnowflakeID) (*models.BotLog, error) {
	entry, err := s.logs.FindByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrNotFound
	}
	return entry, err
}

func (s *Stream) ListByBot(ctx context.Context, botID models.SnowflakeID, opts *repositories.ListOptions) ([]models.BotLog, error) {
	return s.logs.FindByBot(ctx, botID, opts)
}

func (s *Stream) ListByScope(ctx context.Context, ref models.ScopeRef, opts *repositories.ListOptions) ([]models.BotLog, error) {
	return s.logs.FindByScope(ctx, ref, opts)
}

// WithTx returns a stream whose writes run inside tx.
func (s *Stream) WithTx(tx *gorm.DB) *Stream {
	c := *s
	c.db = tx
	c.logs = s.logs.WithTx(tx)
	return &c
}

// DeleteByScope purges the logs produced for a scope model.
func (s *Stream) DeleteByScope(ctx context.Context, ref models.ScopeRef) (int64, error) {
	return s.logs.DeleteByScope(ctx, ref)
}

func (s *Stream) frame(logType models.BotLogType, message string) models.LogFrame {
	return models.LogFrame{
		Message:   message,
		LogType:   logType,
		Timestamp: s.now().UTC(),
	}
}
