// Package dispatcher sends routed events to bots over HTTP and records each
// call in the bot log stream.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/langboard/botengine/internal/bots/botlog"
	"github.com/langboard/botengine/internal/bots/broker"
	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/domain/repositories"
	"github.com/langboard/botengine/internal/pkg/config"
	"github.com/langboard/botengine/internal/pkg/httpclient"
	"github.com/langboard/botengine/internal/pkg/logger"
	"github.com/langboard/botengine/internal/pkg/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Outcomes reported in Result and metrics.
const (
	OutcomeSuccess         = "success"
	OutcomeHTTPError       = "http_error"
	OutcomeTimeout         = "timeout"
	OutcomeTransportError  = "transport_error"
	OutcomeUnknownPlatform = "unknown_platform"
	OutcomeInvalidRequest  = "invalid_request"
)

type Config struct {
	Settings
	RequestTimeout time.Duration
	RequestTrials  int
	// RateLimit is calls per second per bot; zero disables limiting.
	RateLimit float64
	RateBurst int
}

func ConfigFrom(cfg *config.BotsConfig) Config {
	return Config{
		Settings: Settings{
			DefaultFlowsURL: cfg.DefaultFlowsURL,
			OllamaAPIURL:    cfg.OllamaAPIURL,
			APIBaseURL:      cfg.APIBaseURL,
		},
		RequestTimeout: cfg.RequestTimeout,
		RequestTrials:  cfg.RequestTrials,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	}
}

type Result struct {
	LogID    models.SnowflakeID
	Outcome  string
	Attempts int
	Status   int
}

type Dispatcher struct {
	cfg    Config
	client *httpclient.PooledClient
	logs   *botlog.Stream
	bots   *repositories.BotRepository

	mu       sync.Mutex
	limiters map[models.SnowflakeID]*rate.Limiter
}

func New(cfg Config, db *gorm.DB, logs *botlog.Stream, client *httpclient.PooledClient) *Dispatcher {
	if client == nil {
		client = httpclient.Default()
	}
	if cfg.RequestTrials < 0 {
		cfg.RequestTrials = 0
	}
	if cfg.RateBurst < 1 {
		cfg.RateBurst = 1
	}
	return &Dispatcher{
		cfg:      cfg,
		client:   client,
		logs:     logs,
		bots:     repositories.NewBotRepository(db),
		limiters: make(map[models.SnowflakeID]*rate.Limiter),
	}
}

// Handle runs a broker task. A bot deleted after routing is skipped.
func (d *Dispatcher) Handle(ctx context.Context, task broker.Task) error {
	bot, err := d.bots.FindByID(ctx, task.BotID)
	if errors.Is(err, repositories.ErrNotFound) {
		log.Warn().Str("bot_id", task.BotID.String()).Str("task_id", task.ID).Msg("Bot vanished before dispatch")
		return nil
	}
	if err != nil {
		return err
	}
	_, err = d.Dispatch(ctx, bot, task.Scope, task.Event)
	return err
}

// Dispatch calls bot once for event and leaves exactly one log with a
// start frame and a terminal frame. Per-call failures end up in the log;
// the returned error is reserved for the log itself being unwritable.
func (d *Dispatcher) Dispatch(ctx context.Context, bot *models.Bot, target models.ScopeRef, event models.Event) (*Result, error) {
	started := time.Now()
	metrics.DispatchesInProgress.Inc()
	defer metrics.DispatchesInProgress.Dec()

	logScope := event.Scope
	if logScope.IsZero() {
		logScope = target
	}
	projectID := projectOf(event, target)

	handle, err := d.logs.Create(ctx, bot.ID, models.BotLogInfo, "started", logScope, projectID)
	if err != nil {
		return nil, fmt.Errorf("create bot log: %w", err)
	}
	result := &Result{LogID: handle.ID()}

	l := logger.WithBotID(bot.ID.String())
	finish := func(outcome string, logType models.BotLogType, message string) (*Result, error) {
		result.Outcome = outcome
		metrics.RecordDispatch(string(bot.Platform), string(bot.PlatformRunningType), outcome, time.Since(started))
		if err := d.logs.Append(ctx, handle, logType, message); err != nil {
			return result, fmt.Errorf("append bot log: %w", err)
		}
		return result, nil
	}

	req, err := BuildRequest(d.cfg.Settings, Input{Bot: bot, Event: event, ProjectID: projectID, LogID: result.LogID})
	if err != nil {
		l.Error().Err(err).Str("event", event.Kind).Msg("Cannot build bot request")
		outcome := OutcomeInvalidRequest
		if errors.Is(err, ErrUnknownPlatform) {
			outcome = OutcomeUnknownPlatform
		}
		return finish(outcome, models.BotLogError, err.Error())
	}
	body, err := req.Payload()
	if err != nil {
		return finish(OutcomeInvalidRequest, models.BotLogError, err.Error())
	}

	if err := d.wait(ctx, bot.ID); err != nil {
		return finish(OutcomeTransportError, models.BotLogError, err.Error())
	}

	call := d.client.NewRequest(req.Method, req.URL).Headers(req.Headers).Body(body)
	maxAttempts := 1 + d.cfg.RequestTrials
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		resp, err := d.attempt(ctx, call)

		switch {
		case err == nil && resp.OK():
			metrics.RecordDispatchAttempt(string(bot.Platform), "ok")
			result.Status = resp.StatusCode
			return finish(OutcomeSuccess, SuccessType(bot), string(resp.Body))

		case err == nil:
			metrics.RecordDispatchAttempt(string(bot.Platform), "http_error")
			result.Status = resp.StatusCode
			l.Warn().Int("status", resp.StatusCode).Str("event", event.Kind).Msg("Bot answered with an error")
			return finish(OutcomeHTTPError, models.BotLogError, fmt.Sprintf("%d: %s", resp.StatusCode, resp.Body))

		case httpclient.IsTimeout(err) && ctx.Err() == nil:
			metrics.RecordDispatchAttempt(string(bot.Platform), "timeout")
			l.Warn().Int("attempt", attempt).Int("max_attempts", maxAttempts).Str("event", event.Kind).Msg("Bot request timed out")

		default:
			metrics.RecordDispatchAttempt(string(bot.Platform), "error")
			l.Error().Err(err).Str("event", event.Kind).Msg("Bot request failed")
			return finish(OutcomeTransportError, models.BotLogError, err.Error())
		}
	}

	return finish(OutcomeTimeout, models.BotLogError,
		fmt.Sprintf("request timed out after %d attempts", maxAttempts))
}

func (d *Dispatcher) attempt(ctx context.Context, call *httpclient.Request) (*httpclient.Response, error) {
	if d.cfg.RequestTimeout <= 0 {
		return call.Do(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()
	return call.Do(attemptCtx)
}

func (d *Dispatcher) wait(ctx context.Context, botID models.SnowflakeID) error {
	if d.cfg.RateLimit <= 0 {
		return nil
	}
	d.mu.Lock()
	limiter, ok := d.limiters[botID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(d.cfg.RateLimit), d.cfg.RateBurst)
		d.limiters[botID] = limiter
	}
	d.mu.Unlock()
	return limiter.Wait(ctx)
}

func projectOf(event models.Event, target models.ScopeRef) *models.SnowflakeID {
	if id, ok := event.ProjectID(); ok {
		return &id
	}
	if target.Kind == models.ScopeProject && !target.ID.IsZero() {
		id := target.ID
		return &id
	}
	return nil
}
