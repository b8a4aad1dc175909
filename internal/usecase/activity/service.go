package activity

import (
	"context"
	"fmt"
	"time"

	"community-pulse/internal/domain"
)

// Service собирает срез активности по независимым потокам контента.
// Частичных результатов не бывает: ошибка любого источника роняет весь
// вызов, чтобы дайджест не вышел с дырой вместо раздела.
type Service struct {
	content      domain.ContentRepo
	workItemsCap int
}

var _ domain.Collector = (*Service)(nil)

// NewService создаёт агрегатор. workItemsCap ограничивает списки
// проектов и задач, не имеющие оконной фильтрации.
func NewService(content domain.ContentRepo, workItemsCap int) *Service {
	if workItemsCap <= 0 {
		workItemsCap = 10
	}
	return &Service{content: content, workItemsCap: workItemsCap}
}

// Collect возвращает активность с указанного момента. События, опросы,
// витрины и отзывы фильтруются по since; проекты и задачи включаются
// всегда — у них нет метки создания, а открытая работа актуальна в любом
// выпуске.
func (s *Service) Collect(ctx context.Context, since time.Time) (domain.ActivitySet, error) {
	set := domain.ActivitySet{Since: since}

	events, err := s.content.ListEventsSince(ctx, since)
	if err != nil {
		return domain.ActivitySet{}, fmt.Errorf("агрегация событий: %w", err)
	}
	set.Events = events

	polls, err := s.content.ListPollsSince(ctx, since)
	if err != nil {
		return domain.ActivitySet{}, fmt.Errorf("агрегация опросов: %w", err)
	}
	set.Polls = polls

	spotlights, err := s.content.ListSpotlightsSince(ctx, since)
	if err != nil {
		return domain.ActivitySet{}, fmt.Errorf("агрегация витрин: %w", err)
	}
	set.Spotlights = spotlights

	feedback, err := s.content.ListFeedbackSince(ctx, since)
	if err != nil {
		return domain.ActivitySet{}, fmt.Errorf("агрегация отзывов: %w", err)
	}
	set.Feedback = feedback

	projects, err := s.content.ListActiveProjects(ctx, s.workItemsCap)
	if err != nil {
		return domain.ActivitySet{}, fmt.Errorf("агрегация проектов: %w", err)
	}
	set.ActiveProjects = projects

	tasks, err := s.content.ListOpenTasks(ctx, s.workItemsCap)
	if err != nil {
		return domain.ActivitySet{}, fmt.Errorf("агрегация задач: %w", err)
	}
	set.OpenTasks = tasks

	return set, nil
}
