package domain

import "time"

// EngagementKind различает виды взаимодействий в журнале.
type EngagementKind string

const (
	KindLike    EngagementKind = "like"
	KindComment EngagementKind = "comment"
	KindVote    EngagementKind = "vote"
	KindRSVP    EngagementKind = "rsvp"
)

// TargetType описывает тип контента, к которому относится взаимодействие.
type TargetType string

const (
	TargetEvent     TargetType = "event"
	TargetPoll      TargetType = "poll"
	TargetSpotlight TargetType = "spotlight"
)

// ValidTargetType проверяет, что тип контента известен системе.
func ValidTargetType(t TargetType) bool {
	switch t {
	case TargetEvent, TargetPoll, TargetSpotlight:
		return true
	}
	return false
}

// RSVPStatus — ответ участника на приглашение.
type RSVPStatus string

const (
	RSVPAttending    RSVPStatus = "attending"
	RSVPMaybe        RSVPStatus = "maybe"
	RSVPNotAttending RSVPStatus = "not_attending"
)

// ValidRSVPStatus проверяет, что статус входит в допустимый набор.
func ValidRSVPStatus(s RSVPStatus) bool {
	switch s {
	case RSVPAttending, RSVPMaybe, RSVPNotAttending:
		return true
	}
	return false
}

// Engagement — одна запись журнала вовлечённости.
// Для лайков и RSVP действует ограничение «одна живая запись на
// (actor, target, kind)», для голосов — «один голос на (actor, poll)»,
// комментарии не ограничены.
type Engagement struct {
	ID         int64
	ActorID    int64
	TargetID   int64
	TargetType TargetType
	Kind       EngagementKind
	Content    string     // только для комментариев
	PollID     int64      // только для голосов
	OptionID   int64      // только для голосов
	Status     RSVPStatus // только для RSVP
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EngagementCounts — агрегированные счётчики по одному таргету.
type EngagementCounts struct {
	Likes    int
	Comments int
}

// User — снимок пользователя из внешнего провайдера идентичности.
type User struct {
	ID          int64
	Email       string
	DisplayName string
	IsActive    bool
	CreatedAt   time.Time
}

// Poll — опрос с вариантами ответа.
type Poll struct {
	ID        int64
	Question  string
	Options   []PollOption
	CreatedAt time.Time
}

// PollOption — вариант ответа с денормализованным счётчиком голосов.
// Счётчик всегда должен совпадать с числом строк голосов за вариант;
// он меняется только в одной транзакции со вставкой голоса.
type PollOption struct {
	ID     int64
	PollID int64
	Label  string
	Votes  int
}

// Event — событие сообщества.
type Event struct {
	ID        int64
	Title     string
	StartsAt  time.Time
	CreatedAt time.Time
}

// Spotlight — опубликованный материал-витрина.
type Spotlight struct {
	ID          int64
	Title       string
	PublishedAt time.Time
}

// Project — проект сообщества. Временной метки создания у проектов нет,
// поэтому в дайджест они попадают без оконной фильтрации.
type Project struct {
	ID       int64
	Name     string
	IsActive bool
}

// Task — задача внутри проекта.
type Task struct {
	ID        int64
	ProjectID int64
	Title     string
	IsOpen    bool
}

// DigestRun — запись об одном цикле дайджеста. Строки только добавляются;
// самая свежая по SentAt определяет право на следующий запуск.
type DigestRun struct {
	ID             int64
	SentAt         time.Time
	RecipientCount int
	ContentSummary string
	EmailsSent     int
	EmailsFailed   int
}

// DigestResult — итог одного вызова цикла дайджеста.
type DigestResult struct {
	Ran            bool
	Reason         string // заполняется при пропуске
	LastSent       *time.Time
	RecipientCount int
	EmailsSent     int
	EmailsFailed   int
	ContentSummary string
}
