package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"planner/internal/model"
	"planner/internal/service"
)

const (
	iconOverdue   = "⚠️"
	iconRecurring = "♻️"
)

var dueLayouts = []string{"2006-01-02 15:04", "2006-01-02"}

// parseAddArgs reads "title; due; reminder lead; options" where everything
// after the title is optional. Options are a recurrence type, an interval
// and a priority, separated by spaces.
func parseAddArgs(args string, loc *time.Location) (service.TaskInput, error) {
	parts := strings.Split(args, ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	input := service.TaskInput{Title: parts[0]}
	if input.Title == "" {
		return input, fmt.Errorf("usage: /add title; 2026-10-20 18:00; 15m; weekly")
	}

	if len(parts) > 1 && parts[1] != "" {
		due, err := parseDue(parts[1], loc)
		if err != nil {
			return input, err
		}
		input.DueAt = &due
	}

	if len(parts) > 2 && parts[2] != "" {
		if input.DueAt == nil {
			return input, fmt.Errorf("a reminder needs a due date")
		}
		lead, err := time.ParseDuration(parts[2])
		if err != nil || lead < 0 {
			return input, fmt.Errorf("reminder lead %q is not a duration like 15m or 1h", parts[2])
		}
		reminder := input.DueAt.Add(-lead)
		input.ReminderAt = &reminder
	}

	if len(parts) > 3 {
		for _, tok := range strings.Fields(strings.ToLower(strings.Join(parts[3:], " "))) {
			switch tok {
			case "daily", "weekly", "monthly":
				input.Recurrence.Type = model.RecurrenceType(tok)
			case "high", "medium", "low":
				input.Priority = model.Priority(tok)
			default:
				n, err := strconv.Atoi(tok)
				if err != nil || n < 1 {
					return input, fmt.Errorf("unknown option %q", tok)
				}
				input.Recurrence.Interval = n
			}
		}
	}
	return input, nil
}

func parseDue(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range dueLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("due date %q must look like 2026-10-20 or 2026-10-20 18:00", s)
}

func formatTask(n int, task model.Task, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d. %s %s", n, service.PriorityMarker(task.Priority), escape(normalizeTitle(task.Title))))
	if task.DueAt != nil {
		due := task.DueAt.In(now.Location())
		if due.Before(now) {
			sb.WriteString(" " + iconOverdue)
		}
		sb.WriteString(" · " + due.Format("Mon Jan 2 15:04"))
	}
	if task.IsRecurring() {
		sb.WriteString(" " + iconRecurring)
	}
	sb.WriteByte('\n')
	return sb.String()
}

func normalizeTitle(value string) string {
	title := strings.TrimSpace(value)
	if title == "" {
		return "Untitled"
	}
	return title
}

func shortTitle(title string, maxLen int) string {
	title = normalizeTitle(title)
	runes := []rune(title)
	if len(runes) <= maxLen {
		return title
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}
