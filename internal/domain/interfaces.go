package domain

import (
	"context"
	"time"
)

// EngagementRepo управляет журналом вовлечённости.
// Арбитром уникальности выступают ограничения БД: конфликт вставки
// репозиторий переводит в (false, nil) либо в типизированную ошибку,
// а не в системный сбой.
type EngagementRepo interface {
	// InsertLikeIfAbsent вставляет лайк и возвращает true, если строка
	// была создана. При конфликте уникальности возвращает false без ошибки.
	InsertLikeIfAbsent(ctx context.Context, actorID, targetID int64, targetType TargetType) (bool, error)
	// DeleteLike удаляет живой лайк и возвращает true, если строка была.
	DeleteLike(ctx context.Context, actorID, targetID int64, targetType TargetType) (bool, error)
	// InsertVote в одной транзакции вставляет голос и увеличивает счётчик
	// варианта. Повторный голос — ErrAlreadyVoted, чужой вариант —
	// ErrOptionNotFound.
	InsertVote(ctx context.Context, actorID, pollID, optionID int64) (Engagement, error)
	// UpsertRSVP вставляет либо обновляет ответ на приглашение,
	// дубликатов не создаёт.
	UpsertRSVP(ctx context.Context, actorID, eventID int64, status RSVPStatus) (Engagement, error)
	// InsertComment сохраняет комментарий без ограничений уникальности.
	InsertComment(ctx context.Context, actorID, targetID int64, targetType TargetType, content string) (Engagement, error)

	CountFor(ctx context.Context, targetID int64, targetType TargetType) (EngagementCounts, error)
	HasActed(ctx context.Context, actorID, targetID int64, targetType TargetType, kind EngagementKind) (bool, error)
	ListRecent(ctx context.Context, limit, offset int) ([]Engagement, error)
	// PollWithOptions возвращает опрос вместе с вариантами и счётчиками.
	PollWithOptions(ctx context.Context, pollID int64) (Poll, error)
}

// ContentRepo читает независимые потоки контента для агрегации.
type ContentRepo interface {
	ListEventsSince(ctx context.Context, since time.Time) ([]Event, error)
	ListPollsSince(ctx context.Context, since time.Time) ([]Poll, error)
	ListSpotlightsSince(ctx context.Context, since time.Time) ([]Spotlight, error)
	ListFeedbackSince(ctx context.Context, since time.Time) ([]Feedback, error)
	ListActiveProjects(ctx context.Context, limit int) ([]Project, error)
	ListOpenTasks(ctx context.Context, limit int) ([]Task, error)
}

// DigestRunRepo хранит записи о циклах дайджеста.
type DigestRunRepo interface {
	// LatestRun возвращает самую свежую запись по sent_at.
	// Второе значение — false, если записей ещё не было.
	LatestRun(ctx context.Context) (DigestRun, bool, error)
	// RecordRun вставляет запись условно: только если с момента
	// observedLastSent не появилось более свежей строки. Возвращает
	// false без ошибки, если окно уже занял параллельный цикл.
	RecordRun(ctx context.Context, run DigestRun, observedLastSent time.Time) (DigestRun, bool, error)
}

// UserRepo — витрина провайдера идентичности.
type UserRepo interface {
	// ListRecipients возвращает активных пользователей с известным email.
	ListRecipients(ctx context.Context) ([]User, error)
}

// Collector строит срез активности с указанного момента.
type Collector interface {
	Collect(ctx context.Context, since time.Time) (ActivitySet, error)
}

// Mailer — внешняя граница доставки. Один вызов на весь список адресатов,
// успех или неуспех целиком.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, htmlBody string) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
