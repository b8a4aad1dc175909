package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"community-pulse/internal/domain"
	"community-pulse/internal/infra/metrics"
)

// SkipReasonWithinWindow — причина пропуска: окно ещё не истекло.
const SkipReasonWithinWindow = "within window"

// SkipReasonDeduplicated — причина пропуска: сдвоенный триггер погашен замком.
const SkipReasonDeduplicated = "trigger deduplicated"

const triggerOnceKey = "digest:trigger"

// Config задаёт параметры цикла дайджеста.
type Config struct {
	// Window — минимальный интервал между рассылками.
	Window time.Duration
	// Timeout ограничивает весь цикл по стенным часам.
	Timeout time.Duration
	Subject string
	// TriggerTTL — срок redis-замка от сдвоенных триггеров.
	TriggerTTL time.Duration
}

// Service ведёт цикл дайджеста: проверка права на запуск, сбор активности,
// рендеринг, доставка и условная запись итога. Единственная память
// планирования — самая свежая строка digest_runs.
type Service struct {
	runs      domain.DigestRunRepo
	users     domain.UserRepo
	collector domain.Collector
	mailer    domain.Mailer
	cache     domain.Cache // nil допустим: без дедупликации триггеров
	cfg       Config
	log       zerolog.Logger
}

// NewService создаёт сервис цикла дайджеста.
func NewService(runs domain.DigestRunRepo, users domain.UserRepo, collector domain.Collector, mailer domain.Mailer, cache domain.Cache, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.TriggerTTL <= 0 {
		cfg.TriggerTTL = 5 * time.Minute
	}
	return &Service{runs: runs, users: users, collector: collector, mailer: mailer, cache: cache, cfg: cfg, log: logger}
}

// RunCycle выполняет один цикл дайджеста.
//
// Состояния: проверка права → сбор → рендеринг → доставка → запись.
// Любая ошибка до записи оставляет окно открытым; неуспешная доставка
// окно закрывает — строка digest_runs фиксирует emails_failed, а повторные
// штормы в сторону, возможно, сломанного канала не запускаются.
func (s *Service) RunCycle(ctx context.Context) (domain.DigestResult, error) {
	start := time.Now()
	logger := s.log.With().Str("cycle", uuid.NewString()).Logger()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	// Проверка права на запуск: решает самая свежая строка digest_runs.
	last, found, err := s.runs.LatestRun(ctx)
	if err != nil {
		metrics.ObserveDigestCycle("store_error", start)
		return domain.DigestResult{}, fmt.Errorf("чтение последнего цикла: %w", err)
	}

	now := time.Now().UTC()
	cutoff := now.Add(-s.cfg.Window)
	var observedLastSent time.Time
	if found {
		observedLastSent = last.SentAt
		if now.Sub(last.SentAt) < s.cfg.Window {
			metrics.ObserveDigestCycle("skipped", start)
			lastSent := last.SentAt
			logger.Debug().Time("last_sent", lastSent).Msg("digest: окно ещё не истекло")
			return domain.DigestResult{Ran: false, Reason: SkipReasonWithinWindow, LastSent: &lastSent}, nil
		}
		cutoff = last.SentAt
	}

	// Сбор: частичных дайджестов не бывает, ошибка источника оставляет
	// окно открытым для следующего триггера с тем же cutoff.
	set, err := s.collector.Collect(ctx, cutoff)
	if err != nil {
		metrics.ObserveDigestCycle("aggregation_error", start)
		return domain.DigestResult{}, fmt.Errorf("сбор активности: %w", err)
	}

	// Рендеринг — чистое преобразование, не падает.
	summary := BuildSummary(set)
	report := FormatReport(set)

	// Доставка: один вызов на весь список, целиком успех или неуспех.
	recipients, err := s.users.ListRecipients(ctx)
	if err != nil {
		metrics.ObserveDigestCycle("store_error", start)
		return domain.DigestResult{}, fmt.Errorf("получатели дайджеста: %w", err)
	}
	if len(recipients) == 0 {
		metrics.ObserveDigestCycle("no_recipients", start)
		return domain.DigestResult{}, domain.ErrNoRecipients
	}

	to := make([]string, 0, len(recipients))
	for _, u := range recipients {
		to = append(to, u.Email)
	}

	emailsSent, emailsFailed := len(recipients), 0
	if err := s.mailer.Send(ctx, to, s.cfg.Subject, report); err != nil {
		logger.Error().Err(err).Int("recipients", len(to)).Msg("digest: доставка не удалась")
		emailsSent, emailsFailed = 0, len(recipients)
	}
	metrics.AddDigestEmails(emailsSent, emailsFailed)

	// Истёкший таймаут обрывает цикл до записи: исход доставки неизвестен,
	// окно остаётся открытым.
	if err := ctx.Err(); err != nil {
		metrics.ObserveDigestCycle("timeout", start)
		return domain.DigestResult{}, fmt.Errorf("цикл прерван: %w", err)
	}

	// Запись — последняя операция цикла. Условная вставка: если после
	// наблюдавшейся отметки успел записаться параллельный цикл, вторая
	// строка не появляется.
	run := domain.DigestRun{
		SentAt:         time.Now().UTC(),
		RecipientCount: len(recipients),
		ContentSummary: summary,
		EmailsSent:     emailsSent,
		EmailsFailed:   emailsFailed,
	}
	recorded, ok, err := s.runs.RecordRun(ctx, run, observedLastSent)
	if err != nil {
		metrics.ObserveDigestCycle("store_error", start)
		return domain.DigestResult{}, fmt.Errorf("запись цикла: %w", err)
	}
	if !ok {
		metrics.ObserveDigestCycle("superseded", start)
		logger.Warn().Msg("digest: окно занял параллельный цикл, запись пропущена")
		return domain.DigestResult{}, domain.ErrCycleSuperseded
	}

	metrics.ObserveDigestCycle("ran", start)
	logger.Info().
		Int("recipients", recorded.RecipientCount).
		Int("sent", recorded.EmailsSent).
		Int("failed", recorded.EmailsFailed).
		Str("summary", recorded.ContentSummary).
		Msg("digest: цикл завершён")

	return domain.DigestResult{
		Ran:            true,
		RecipientCount: recorded.RecipientCount,
		EmailsSent:     recorded.EmailsSent,
		EmailsFailed:   recorded.EmailsFailed,
		ContentSummary: recorded.ContentSummary,
	}, nil
}

// RunCycleDeduped оборачивает RunCycle redis-замком от сдвоенных триггеров
// (HTTP-крон, пришедший дважды, либо крон и ручной запуск разом).
// Арбитром остаётся условная вставка в БД, замок лишь сужает окно гонки.
func (s *Service) RunCycleDeduped(ctx context.Context) (domain.DigestResult, error) {
	if s.cache == nil {
		return s.RunCycle(ctx)
	}

	var (
		result domain.DigestResult
		ran    bool
	)
	err := s.cache.Once(triggerOnceKey, s.cfg.TriggerTTL, func() error {
		ran = true
		var err error
		result, err = s.RunCycle(ctx)
		return err
	})
	if err != nil {
		return domain.DigestResult{}, err
	}
	if !ran {
		metrics.IncDigestCycle("deduplicated")
		return domain.DigestResult{Ran: false, Reason: SkipReasonDeduplicated}, nil
	}
	return result, nil
}
