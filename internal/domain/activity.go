package domain

import "time"

// ActivitySet — нормализованный срез активности за окно дайджеста.
// Events, Polls, Spotlights и Feedback отфильтрованы по created_at >= Since;
// ActiveProjects и OpenTasks окна не имеют и всегда включаются целиком
// (с ограничением по количеству) — у них нет метки создания, а открытая
// работа заслуживает упоминания в каждом выпуске.
type ActivitySet struct {
	Since          time.Time
	Events         []Event
	Polls          []Poll
	Spotlights     []Spotlight
	Feedback       []Feedback
	ActiveProjects []Project
	OpenTasks      []Task
}

// HasActivity сообщает, есть ли хоть что-то в одном из шести списков.
func (s ActivitySet) HasActivity() bool {
	return len(s.Events) > 0 ||
		len(s.Polls) > 0 ||
		len(s.Spotlights) > 0 ||
		len(s.Feedback) > 0 ||
		len(s.ActiveProjects) > 0 ||
		len(s.OpenTasks) > 0
}
