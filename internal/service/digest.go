package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"planner/internal/model"
)

const upcomingWindow = 7 * 24 * time.Hour

// Buckets partitions open tasks by how soon they are due.
type Buckets struct {
	Overdue  []model.Task
	Today    []model.Task
	Tomorrow []model.Task
	Upcoming []model.Task
}

func (b Buckets) Len() int {
	return len(b.Overdue) + len(b.Today) + len(b.Tomorrow) + len(b.Upcoming)
}

func (b Buckets) Empty() bool { return b.Len() == 0 }

// GroupTasks buckets incomplete dated tasks relative to now. Day boundaries
// follow now's location.
func GroupTasks(tasks []model.Task, now time.Time) Buckets {
	loc := now.Location()
	year, month, day := now.Date()
	startToday := time.Date(year, month, day, 0, 0, 0, 0, loc)
	startTomorrow := startToday.AddDate(0, 0, 1)
	startAfter := startToday.AddDate(0, 0, 2)
	horizon := now.Add(upcomingWindow)

	var b Buckets
	for _, task := range tasks {
		if task.Completed || task.DueAt == nil {
			continue
		}
		due := *task.DueAt
		switch {
		case due.Before(startToday):
			b.Overdue = append(b.Overdue, task)
		case due.Before(startTomorrow):
			b.Today = append(b.Today, task)
		case due.Before(startAfter):
			b.Tomorrow = append(b.Tomorrow, task)
		case !due.After(horizon):
			b.Upcoming = append(b.Upcoming, task)
		}
	}

	sortByDueThenPriority(b.Overdue)
	sortByDueThenPriority(b.Today)
	sortByDueThenPriority(b.Tomorrow)
	sortByDueThenPriority(b.Upcoming)
	return b
}

func sortByDueThenPriority(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		di, dj := *tasks[i].DueAt, *tasks[j].DueAt
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return tasks[i].Priority.Rank() < tasks[j].Priority.Rank()
	})
}

var priorityMarker = map[model.Priority]string{
	model.PriorityHigh:   "🔴",
	model.PriorityMedium: "🟡",
	model.PriorityLow:    "🟢",
}

// PriorityMarker returns the colored dot shown for p.
func PriorityMarker(p model.Priority) string {
	if marker, ok := priorityMarker[p]; ok {
		return marker
	}
	return priorityMarker[model.PriorityMedium]
}

const noTasksDigest = "📋 Daily Summary\n\n✨ No tasks due today!\n\nEnjoy your free day! 🎉"

// FormatDigest renders buckets as a plain-text message.
func FormatDigest(b Buckets, classNames map[string]string, now time.Time) string {
	if b.Empty() {
		return noTasksDigest
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("📋 Daily Summary · %s\n", now.Format("Mon, Jan 2")))

	writeBucket(&builder, "⚠️ Overdue", b.Overdue, classNames, now, "Jan 2 15:04")
	writeBucket(&builder, "📅 Today", b.Today, classNames, now, "15:04")
	writeBucket(&builder, "🌅 Tomorrow", b.Tomorrow, classNames, now, "15:04")
	writeBucket(&builder, "🗓 Upcoming", b.Upcoming, classNames, now, "Mon Jan 2 15:04")

	high := 0
	for _, group := range [][]model.Task{b.Overdue, b.Today, b.Tomorrow, b.Upcoming} {
		for _, task := range group {
			if task.Priority == model.PriorityHigh {
				high++
			}
		}
	}
	if high > 0 {
		builder.WriteString(fmt.Sprintf("\n⚠️ %d high priority!\n", high))
	}

	return strings.TrimSpace(builder.String())
}

func writeBucket(sb *strings.Builder, header string, tasks []model.Task, classNames map[string]string, now time.Time, layout string) {
	if len(tasks) == 0 {
		return
	}
	sb.WriteString(fmt.Sprintf("\n%s (%d)\n", header, len(tasks)))
	for i, task := range tasks {
		sb.WriteString(formatTaskLine(i+1, task, classNames, now.Location(), layout))
	}
}

func formatTaskLine(n int, task model.Task, classNames map[string]string, loc *time.Location, layout string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%d. %s %s", n, PriorityMarker(task.Priority), strings.TrimSpace(task.Title)))

	if task.ClassID != nil {
		if name := strings.TrimSpace(classNames[*task.ClassID]); name != "" {
			sb.WriteString(fmt.Sprintf(" [%s]", name))
		}
	}
	if task.DueAt != nil {
		sb.WriteString(" · " + task.DueAt.In(loc).Format(layout))
	}

	sb.WriteByte('\n')
	return sb.String()
}
