package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"community-pulse/internal/domain"
	"community-pulse/internal/infra/metrics"
)

// ErrToggleContended возвращается, когда переключение лайка не сошлось
// за отведённые попытки из-за параллельных переключений того же актора.
var ErrToggleContended = errors.New("не удалось переключить лайк из-за гонки")

const (
	toggleRetryMax   = 3
	defaultListLimit = 50
	maxListLimit     = 200
	maxCommentLength = 4000
)

// Service реализует бизнес-логику журнала вовлечённости: переключение
// лайков, голоса, RSVP и комментарии с типизированными отказами.
type Service struct {
	repo domain.EngagementRepo
	log  zerolog.Logger
}

// NewService создаёт сервис журнала.
func NewService(repo domain.EngagementRepo, logger zerolog.Logger) *Service {
	return &Service{repo: repo, log: logger}
}

// ToggleLike переводит лайк в противоположное состояние и возвращает
// итоговое. Конфликт вставки означает «уже живой» и переводится в
// удаление; проигранная гонка с чужим удалением — в повторную вставку.
func (s *Service) ToggleLike(ctx context.Context, actorID, targetID int64, targetType domain.TargetType) (bool, error) {
	if !domain.ValidTargetType(targetType) {
		return false, domain.ErrUnknownTargetType
	}

	for attempt := 0; attempt < toggleRetryMax; attempt++ {
		inserted, err := s.repo.InsertLikeIfAbsent(ctx, actorID, targetID, targetType)
		metrics.ObserveEngagementOp(string(domain.KindLike), err)
		if err != nil {
			return false, fmt.Errorf("вставка лайка: %w", err)
		}
		if inserted {
			return true, nil
		}

		deleted, err := s.repo.DeleteLike(ctx, actorID, targetID, targetType)
		if err != nil {
			return false, fmt.Errorf("снятие лайка: %w", err)
		}
		if deleted {
			return false, nil
		}
		// Строку успел удалить параллельный вызов — пробуем вставку заново.
	}

	s.log.Warn().Int64("actor", actorID).Int64("target", targetID).Msg("toggle: исчерпаны попытки")
	return false, ErrToggleContended
}

// CastVote регистрирует голос. Повторный голос того же актора в опросе
// отклоняется как domain.ErrAlreadyVoted, счётчик варианта не меняется.
func (s *Service) CastVote(ctx context.Context, actorID, pollID, optionID int64) (domain.Engagement, error) {
	vote, err := s.repo.InsertVote(ctx, actorID, pollID, optionID)
	metrics.ObserveEngagementOp(string(domain.KindVote), err)
	if errors.Is(err, domain.ErrAlreadyVoted) {
		metrics.IncEngagementRejected(string(domain.KindVote))
		return domain.Engagement{}, domain.ErrAlreadyVoted
	}
	if errors.Is(err, domain.ErrOptionNotFound) || errors.Is(err, domain.ErrPollNotFound) {
		return domain.Engagement{}, err
	}
	if err != nil {
		return domain.Engagement{}, fmt.Errorf("сохранение голоса: %w", err)
	}
	return vote, nil
}

// SetRSVP сохраняет ответ на приглашение. Повторный вызов того же актора
// обновляет статус на месте, дубликатов не бывает.
func (s *Service) SetRSVP(ctx context.Context, actorID, eventID int64, status domain.RSVPStatus) (domain.Engagement, error) {
	if !domain.ValidRSVPStatus(status) {
		return domain.Engagement{}, domain.ErrInvalidRSVPStatus
	}
	rec, err := s.repo.UpsertRSVP(ctx, actorID, eventID, status)
	metrics.ObserveEngagementOp(string(domain.KindRSVP), err)
	if err != nil {
		return domain.Engagement{}, fmt.Errorf("сохранение RSVP: %w", err)
	}
	return rec, nil
}

// PostComment сохраняет комментарий. Ограничений уникальности нет.
func (s *Service) PostComment(ctx context.Context, actorID, targetID int64, targetType domain.TargetType, content string) (domain.Engagement, error) {
	if !domain.ValidTargetType(targetType) {
		return domain.Engagement{}, domain.ErrUnknownTargetType
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Engagement{}, domain.ErrEmptyComment
	}
	if len(content) > maxCommentLength {
		content = content[:maxCommentLength]
	}
	rec, err := s.repo.InsertComment(ctx, actorID, targetID, targetType, content)
	metrics.ObserveEngagementOp(string(domain.KindComment), err)
	if err != nil {
		return domain.Engagement{}, fmt.Errorf("сохранение комментария: %w", err)
	}
	return rec, nil
}

// CountFor возвращает счётчики лайков и комментариев по таргету.
func (s *Service) CountFor(ctx context.Context, targetID int64, targetType domain.TargetType) (domain.EngagementCounts, error) {
	if !domain.ValidTargetType(targetType) {
		return domain.EngagementCounts{}, domain.ErrUnknownTargetType
	}
	counts, err := s.repo.CountFor(ctx, targetID, targetType)
	if err != nil {
		return domain.EngagementCounts{}, fmt.Errorf("подсчёт по таргету: %w", err)
	}
	return counts, nil
}

// HasActed сообщает, взаимодействовал ли актор с таргетом.
func (s *Service) HasActed(ctx context.Context, actorID, targetID int64, targetType domain.TargetType, kind domain.EngagementKind) (bool, error) {
	if !domain.ValidTargetType(targetType) {
		return false, domain.ErrUnknownTargetType
	}
	acted, err := s.repo.HasActed(ctx, actorID, targetID, targetType, kind)
	if err != nil {
		return false, fmt.Errorf("проверка взаимодействия: %w", err)
	}
	return acted, nil
}

// ListRecentActivity возвращает последние записи журнала с пагинацией.
func (s *Service) ListRecentActivity(ctx context.Context, limit, offset int) ([]domain.Engagement, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.repo.ListRecent(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("чтение журнала: %w", err)
	}
	return items, nil
}

// PollResults возвращает опрос с вариантами и счётчиками голосов.
func (s *Service) PollResults(ctx context.Context, pollID int64) (domain.Poll, error) {
	poll, err := s.repo.PollWithOptions(ctx, pollID)
	if errors.Is(err, domain.ErrPollNotFound) {
		return domain.Poll{}, err
	}
	if err != nil {
		return domain.Poll{}, fmt.Errorf("чтение опроса: %w", err)
	}
	return poll, nil
}
