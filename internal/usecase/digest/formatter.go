package digest

import (
	"fmt"
	"html"
	"strings"

	"community-pulse/internal/domain"
)

const untitledPlaceholder = "Без названия"

// BuildSummary строит короткую строку-сводку по срезу активности.
// Пустые разделы пропускаются; совсем пустой срез отмечается явно.
func BuildSummary(set domain.ActivitySet) string {
	var parts []string
	if n := len(set.Events); n > 0 {
		parts = append(parts, fmt.Sprintf("события: %d", n))
	}
	if n := len(set.Polls); n > 0 {
		parts = append(parts, fmt.Sprintf("опросы: %d", n))
	}
	if n := len(set.Spotlights); n > 0 {
		parts = append(parts, fmt.Sprintf("витрины: %d", n))
	}
	if n := len(set.Feedback); n > 0 {
		parts = append(parts, fmt.Sprintf("отзывы: %d", n))
	}
	if n := len(set.ActiveProjects); n > 0 {
		parts = append(parts, fmt.Sprintf("проекты: %d", n))
	}
	if n := len(set.OpenTasks); n > 0 {
		parts = append(parts, fmt.Sprintf("задачи: %d", n))
	}
	if len(parts) == 0 {
		return "без активности"
	}
	return strings.Join(parts, ", ")
}

// FormatReport формирует HTML-представление дайджеста для рассылки.
// Чистое преобразование данных: пустые поля вырождаются в заглушки,
// ошибок здесь не бывает.
func FormatReport(set domain.ActivitySet) string {
	var sections []string

	if events := buildEventsSection(set.Events); events != "" {
		sections = append(sections, events)
	}
	if polls := buildPollsSection(set.Polls); polls != "" {
		sections = append(sections, polls)
	}
	if spotlights := buildSpotlightsSection(set.Spotlights); spotlights != "" {
		sections = append(sections, spotlights)
	}
	if feedback := buildFeedbackSection(set.Feedback); feedback != "" {
		sections = append(sections, feedback)
	}
	if work := buildWorkSection(set.ActiveProjects, set.OpenTasks); work != "" {
		sections = append(sections, work)
	}

	if len(sections) == 0 {
		return "<p>За прошедшую неделю новой активности не было.</p>"
	}
	return strings.TrimSpace(strings.Join(sections, "\n"))
}

func buildEventsSection(events []domain.Event) string {
	if len(events) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("<h3>📅 Новые события</h3>\n<ul>\n")
	for _, e := range events {
		title := orPlaceholder(e.Title)
		builder.WriteString("<li>" + escapeHTML(title))
		if !e.StartsAt.IsZero() {
			builder.WriteString(" (" + e.StartsAt.Format("02.01.2006") + ")")
		}
		builder.WriteString("</li>\n")
	}
	builder.WriteString("</ul>")
	return builder.String()
}

func buildPollsSection(polls []domain.Poll) string {
	if len(polls) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("<h3>🗳 Новые опросы</h3>\n<ul>\n")
	for _, p := range polls {
		builder.WriteString("<li>" + escapeHTML(orPlaceholder(p.Question)) + "</li>\n")
	}
	builder.WriteString("</ul>")
	return builder.String()
}

func buildSpotlightsSection(spotlights []domain.Spotlight) string {
	if len(spotlights) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("<h3>✨ Витрины недели</h3>\n<ul>\n")
	for _, s := range spotlights {
		builder.WriteString("<li>" + escapeHTML(orPlaceholder(s.Title)) + "</li>\n")
	}
	builder.WriteString("</ul>")
	return builder.String()
}

func buildFeedbackSection(feedback []domain.Feedback) string {
	if len(feedback) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("<h3>💬 Свежие отзывы</h3>\n<ul>\n")
	for _, f := range feedback {
		message := strings.TrimSpace(f.Message)
		if message == "" {
			message = "(без текста)"
		}
		builder.WriteString("<li>" + escapeHTML(message) + "</li>\n")
	}
	builder.WriteString("</ul>")
	return builder.String()
}

func buildWorkSection(projects []domain.Project, tasks []domain.Task) string {
	if len(projects) == 0 && len(tasks) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("<h3>🛠 Открытая работа</h3>")
	if len(projects) > 0 {
		builder.WriteString("\n<p>Активные проекты:</p>\n<ul>\n")
		for _, p := range projects {
			builder.WriteString("<li>" + escapeHTML(orPlaceholder(p.Name)) + "</li>\n")
		}
		builder.WriteString("</ul>")
	}
	if len(tasks) > 0 {
		builder.WriteString("\n<p>Открытые задачи:</p>\n<ul>\n")
		for _, t := range tasks {
			builder.WriteString("<li>" + escapeHTML(orPlaceholder(t.Title)) + "</li>\n")
		}
		builder.WriteString("</ul>")
	}
	return builder.String()
}

func orPlaceholder(s string) string {
	if trimmed := strings.TrimSpace(s); trimmed != "" {
		return trimmed
	}
	return untitledPlaceholder
}

func escapeHTML(s string) string {
	return html.EscapeString(s)
}
