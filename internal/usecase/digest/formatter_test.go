package digest

import (
	"strings"
	"testing"
	"time"

	"community-pulse/internal/domain"
)

func TestBuildSummaryEmpty(t *testing.T) {
	if got := BuildSummary(domain.ActivitySet{}); got != "без активности" {
		t.Fatalf("пустой срез должен отмечаться явно, получили %q", got)
	}
}

func TestBuildSummarySkipsEmptySections(t *testing.T) {
	set := domain.ActivitySet{
		Events:    []domain.Event{{ID: 1}, {ID: 2}},
		OpenTasks: []domain.Task{{ID: 3}},
	}
	got := BuildSummary(set)
	if got != "события: 2, задачи: 1" {
		t.Fatalf("неожиданная сводка: %q", got)
	}
}

func TestFormatReportEmpty(t *testing.T) {
	report := FormatReport(domain.ActivitySet{})
	if !strings.Contains(report, "активности не было") {
		t.Fatalf("пустой отчёт должен содержать заглушку, получили %q", report)
	}
}

func TestFormatReportEscapesHTML(t *testing.T) {
	set := domain.ActivitySet{
		Events: []domain.Event{{Title: "<script>alert(1)</script>", CreatedAt: time.Now()}},
	}
	report := FormatReport(set)
	if strings.Contains(report, "<script>") {
		t.Fatalf("пользовательский текст должен экранироваться")
	}
	if !strings.Contains(report, "&lt;script&gt;") {
		t.Fatalf("ожидали экранированный заголовок, получили %q", report)
	}
}

func TestFormatReportPlaceholders(t *testing.T) {
	set := domain.ActivitySet{
		Events:         []domain.Event{{Title: "   "}},
		ActiveProjects: []domain.Project{{Name: ""}},
	}
	report := FormatReport(set)
	if strings.Count(report, untitledPlaceholder) != 2 {
		t.Fatalf("пустые названия должны вырождаться в заглушку, получили %q", report)
	}
}

func TestFormatReportSections(t *testing.T) {
	set := domain.ActivitySet{
		Events:         []domain.Event{{Title: "Митап", StartsAt: time.Date(2025, 3, 14, 19, 0, 0, 0, time.UTC)}},
		Polls:          []domain.Poll{{Question: "Куда едем?"}},
		Spotlights:     []domain.Spotlight{{Title: "Проект месяца"}},
		Feedback:       []domain.Feedback{{Message: "Отличная встреча"}},
		ActiveProjects: []domain.Project{{Name: "Сайт"}},
		OpenTasks:      []domain.Task{{Title: "Обновить афишу"}},
	}
	report := FormatReport(set)
	for _, fragment := range []string{"Митап", "14.03.2025", "Куда едем?", "Проект месяца", "Отличная встреча", "Сайт", "Обновить афишу"} {
		if !strings.Contains(report, fragment) {
			t.Fatalf("в отчёте нет фрагмента %q", fragment)
		}
	}
}
