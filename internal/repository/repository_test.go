package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"planner/internal/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "nested", "planner.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

var base = time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func TestTaskRepositoryReminderQueries(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(openTestDB(t))

	offset := time.FixedZone("UTC-5", -5*60*60)
	tasks := []*model.Task{
		{Title: "due", ReminderAt: ptr(base.Add(-time.Minute))},
		{Title: "due-local-zone", ReminderAt: ptr(base.In(offset))},
		{Title: "sent", ReminderAt: ptr(base.Add(-time.Hour)), ReminderSent: true},
		{Title: "completed", ReminderAt: ptr(base.Add(-time.Hour)), Completed: true},
		{Title: "later", ReminderAt: ptr(base.Add(2 * time.Hour))},
		{Title: "soon", ReminderAt: ptr(base.Add(30 * time.Minute))},
		{Title: "no-reminder"},
	}
	for _, task := range tasks {
		if err := repo.Create(ctx, task); err != nil {
			t.Fatalf("Create %s: %v", task.Title, err)
		}
		if task.ID == "" || task.Priority != model.PriorityMedium {
			t.Fatalf("hooks did not run for %s: %+v", task.Title, task)
		}
	}

	due, err := repo.DueReminders(ctx, base)
	if err != nil {
		t.Fatalf("DueReminders: %v", err)
	}
	if len(due) != 2 || due[0].Title != "due" || due[1].Title != "due-local-zone" {
		t.Fatalf("DueReminders = %+v", titles(due))
	}

	next, err := repo.NextReminder(ctx, base)
	if err != nil {
		t.Fatalf("NextReminder: %v", err)
	}
	if next == nil || next.Title != "soon" {
		t.Fatalf("NextReminder = %+v", next)
	}

	flipped, err := repo.MarkReminderSent(ctx, due[0].ID, *due[0].ReminderAt)
	if err != nil || !flipped {
		t.Fatalf("MarkReminderSent = %v, %v", flipped, err)
	}
	flipped, err = repo.MarkReminderSent(ctx, due[0].ID, *due[0].ReminderAt)
	if err != nil || flipped {
		t.Fatalf("second MarkReminderSent = %v, %v", flipped, err)
	}

	none, err := repo.NextReminder(ctx, base.Add(3*time.Hour))
	if err != nil || none != nil {
		t.Fatalf("NextReminder past all = %+v, %v", none, err)
	}
}

func TestTaskRepositoryCompletionAndSuccessor(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(openTestDB(t))

	parent := &model.Task{Title: "weekly", DueAt: ptr(base), Recurrence: model.Recurrence{Type: model.RecurWeekly, Interval: 1}}
	if err := repo.Create(ctx, parent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	flipped, err := repo.MarkCompleted(ctx, parent.ID, base)
	if err != nil || !flipped {
		t.Fatalf("MarkCompleted = %v, %v", flipped, err)
	}
	if flipped, _ := repo.MarkCompleted(ctx, parent.ID, base); flipped {
		t.Fatal("second MarkCompleted must not flip")
	}

	successor := func() *model.Task {
		return &model.Task{Title: "weekly", DueAt: ptr(base.AddDate(0, 0, 7)), ParentID: &parent.ID}
	}
	if err := repo.CreateSuccessor(ctx, successor()); err != nil {
		t.Fatalf("CreateSuccessor: %v", err)
	}
	if err := repo.CreateSuccessor(ctx, successor()); !errors.Is(err, ErrSuccessorExists) {
		t.Fatalf("second CreateSuccessor: err = %v, want ErrSuccessorExists", err)
	}
	// The unique parent index backs the check when it is bypassed.
	if err := repo.Create(ctx, successor()); err == nil {
		t.Fatal("unique parent index not enforced")
	}

	open, err := repo.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 1 || open[0].ParentID == nil || *open[0].ParentID != parent.ID {
		t.Fatalf("ListOpen = %+v", titles(open))
	}

	if err := repo.SetIncomplete(ctx, parent.ID); err != nil {
		t.Fatalf("SetIncomplete: %v", err)
	}
	reopened, err := repo.FindByID(ctx, parent.ID)
	if err != nil || reopened.Completed || reopened.CompletedAt != nil {
		t.Fatalf("FindByID after reopen = %+v, %v", reopened, err)
	}

	if err := repo.Delete(ctx, parent.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.FindByID(ctx, parent.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByID after delete: err = %v", err)
	}
}

func TestTaskRepositoryMarkReminderSentIgnoresMovedReminder(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(openTestDB(t))

	task := &model.Task{Title: "call", ReminderAt: ptr(base)}
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	dispatched := base

	task.ReminderAt = ptr(base.Add(time.Hour))
	if err := repo.UpdateDetails(ctx, task, true); err != nil {
		t.Fatalf("UpdateDetails: %v", err)
	}

	flipped, err := repo.MarkReminderSent(ctx, task.ID, dispatched)
	if err != nil || flipped {
		t.Fatalf("MarkReminderSent stale instant = %v, %v", flipped, err)
	}
	got, err := repo.FindByID(ctx, task.ID)
	if err != nil || got.ReminderSent {
		t.Fatalf("moved reminder disarmed: %+v, %v", got, err)
	}

	flipped, err = repo.MarkReminderSent(ctx, task.ID, base.Add(time.Hour).In(time.FixedZone("UTC+3", 3*60*60)))
	if err != nil || !flipped {
		t.Fatalf("MarkReminderSent current instant = %v, %v", flipped, err)
	}
}

func TestTaskRepositoryUpdateDetailsKeepsState(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(openTestDB(t))

	task := &model.Task{Title: "draft", ReminderAt: ptr(base), DueAt: ptr(base)}
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// A stale copy loaded before the reminder fired and the task was completed.
	stale, err := repo.FindByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if ok, err := repo.MarkReminderSent(ctx, task.ID, base); err != nil || !ok {
		t.Fatalf("MarkReminderSent = %v, %v", ok, err)
	}
	if ok, err := repo.MarkCompleted(ctx, task.ID, base); err != nil || !ok {
		t.Fatalf("MarkCompleted = %v, %v", ok, err)
	}

	stale.Title = "final"
	stale.Description = "notes"
	if err := repo.UpdateDetails(ctx, stale, false); err != nil {
		t.Fatalf("UpdateDetails: %v", err)
	}
	got, err := repo.FindByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Title != "final" || got.Description != "notes" {
		t.Fatalf("details not written: %+v", got)
	}
	if !got.ReminderSent || !got.Completed || got.CompletedAt == nil {
		t.Fatalf("edit overwrote state: %+v", got)
	}

	got.ReminderAt = nil
	if err := repo.UpdateDetails(ctx, got, true); err != nil {
		t.Fatalf("UpdateDetails clear reminder: %v", err)
	}
	if again, _ := repo.FindByID(ctx, task.ID); again.ReminderAt != nil || again.ReminderSent {
		t.Fatalf("reminder not cleared: %+v", again)
	}

	if err := repo.UpdateDetails(ctx, &model.Task{ID: "missing", Title: "x"}, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateDetails missing: err = %v", err)
	}
}

func TestTaskRepositoryListOpenDueBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(openTestDB(t))

	for _, task := range []*model.Task{
		{Title: "b", DueAt: ptr(base.Add(48 * time.Hour))},
		{Title: "a", DueAt: ptr(base.Add(-24 * time.Hour))},
		{Title: "far", DueAt: ptr(base.Add(30 * 24 * time.Hour))},
		{Title: "done", DueAt: ptr(base), Completed: true},
		{Title: "undated"},
	} {
		if err := repo.Create(ctx, task); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := repo.ListOpenDueBefore(ctx, base.Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("ListOpenDueBefore: %v", err)
	}
	if names := titles(got); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("ListOpenDueBefore = %v", names)
	}
}

func TestProfileRepositoryClaimDigest(t *testing.T) {
	ctx := context.Background()
	repo := NewProfileRepository(openTestDB(t))

	p, err := repo.GetOrCreate(ctx, model.Profile{ID: "p1", DigestTime: "08:00", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	p.Address, p.AddressVerified, p.DigestEnabled = "42", true, true
	if err := repo.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := repo.GetOrCreate(ctx, model.Profile{ID: "p1", DigestTime: "09:00"}); err != nil {
		t.Fatalf("GetOrCreate existing: %v", err)
	}

	recipients, err := repo.ListDigestRecipients(ctx)
	if err != nil || len(recipients) != 1 || recipients[0].DigestTime != "08:00" {
		t.Fatalf("ListDigestRecipients = %+v, %v", recipients, err)
	}

	for i, want := range []bool{true, false} {
		won, err := repo.ClaimDigest(ctx, "p1", "2026-10-16")
		if err != nil || won != want {
			t.Fatalf("claim %d = %v, %v; want %v", i, won, err, want)
		}
	}
	if won, _ := repo.ClaimDigest(ctx, "p1", "2026-10-17"); !won {
		t.Fatal("claim for a new day must win")
	}

	byAddr, err := repo.FindByAddress(ctx, "42")
	if err != nil || byAddr.LastDigestOn != "2026-10-17" {
		t.Fatalf("FindByAddress = %+v, %v", byAddr, err)
	}
	if _, err := repo.FindByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByID missing: err = %v", err)
	}
}

func TestEndpointRepositoryUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewEndpointRepository(openTestDB(t))

	if err := repo.Upsert(ctx, &model.PushEndpoint{Endpoint: "https://push/1", P256dh: "k1", Auth: "a1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.Upsert(ctx, &model.PushEndpoint{Endpoint: "https://push/1", P256dh: "k2", Auth: "a2"}); err != nil {
		t.Fatalf("Upsert existing: %v", err)
	}
	if err := repo.Upsert(ctx, &model.PushEndpoint{Endpoint: "https://push/2", P256dh: "k", Auth: "a"}); err != nil {
		t.Fatalf("Upsert second: %v", err)
	}

	eps, err := repo.List(ctx)
	if err != nil || len(eps) != 2 {
		t.Fatalf("List = %+v, %v", eps, err)
	}
	for _, ep := range eps {
		if ep.Endpoint == "https://push/1" && (ep.P256dh != "k2" || ep.Auth != "a2") {
			t.Fatalf("keys not refreshed: %+v", ep)
		}
	}

	if err := repo.DeleteByEndpoint(ctx, "https://push/1"); err != nil {
		t.Fatalf("DeleteByEndpoint: %v", err)
	}
	if eps, _ := repo.List(ctx); len(eps) != 1 || eps[0].Endpoint != "https://push/2" {
		t.Fatalf("List after delete = %+v", eps)
	}
}

func TestClassRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewClassRepository(openTestDB(t))

	first, err := repo.GetOrCreate(ctx, " History ")
	if err != nil || first == nil {
		t.Fatalf("GetOrCreate: %+v, %v", first, err)
	}
	again, err := repo.GetOrCreate(ctx, "History")
	if err != nil || again.ID != first.ID {
		t.Fatalf("GetOrCreate again = %+v, %v", again, err)
	}
	if none, err := repo.GetOrCreate(ctx, "  "); none != nil || err != nil {
		t.Fatalf("blank name = %+v, %v", none, err)
	}

	names, err := repo.NamesByID(ctx)
	if err != nil || names[first.ID] != "History" {
		t.Fatalf("NamesByID = %v, %v", names, err)
	}
}

func TestClassRepositoryManage(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewClassRepository(db)
	tasks := NewTaskRepository(db)

	math := &model.Class{Name: "Math", Color: "#ff0000"}
	if err := repo.Create(ctx, math); err != nil {
		t.Fatalf("Create: %v", err)
	}
	art, err := repo.GetOrCreate(ctx, "Art")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if math.SortOrder != 0 || art.SortOrder != 1 {
		t.Fatalf("sort orders = %d, %d", math.SortOrder, art.SortOrder)
	}
	if err := repo.Create(ctx, &model.Class{Name: "Math"}); !errors.Is(err, ErrClassExists) {
		t.Fatalf("duplicate Create: err = %v", err)
	}

	art.Name, art.Color = "Art History", "#00ff00"
	if err := repo.UpdateDetails(ctx, art); err != nil {
		t.Fatalf("UpdateDetails: %v", err)
	}
	art.Name = "Math"
	if err := repo.UpdateDetails(ctx, art); !errors.Is(err, ErrClassExists) {
		t.Fatalf("rename onto existing: err = %v", err)
	}
	if err := repo.UpdateDetails(ctx, &model.Class{ID: "missing", Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateDetails missing: err = %v", err)
	}

	if err := repo.Reorder(ctx, []string{art.ID, math.ID}); err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	list, err := repo.List(ctx)
	if err != nil || len(list) != 2 || list[0].Name != "Art History" || list[1].Name != "Math" {
		t.Fatalf("List after reorder = %+v, %v", list, err)
	}
	if err := repo.Reorder(ctx, []string{math.ID, "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Reorder with unknown id: err = %v", err)
	}
	if list, _ := repo.List(ctx); list[0].ID != art.ID {
		t.Fatal("failed reorder must roll back")
	}

	task := &model.Task{Title: "homework", ClassID: &math.ID}
	if err := tasks.Create(ctx, task); err != nil {
		t.Fatalf("Create task: %v", err)
	}
	if err := repo.Delete(ctx, math.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, err := tasks.FindByID(ctx, task.ID); err != nil || got.ClassID != nil {
		t.Fatalf("task after class delete = %+v, %v", got, err)
	}
	if _, err := repo.FindByID(ctx, math.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByID deleted: err = %v", err)
	}
	if err := repo.Delete(ctx, math.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete: err = %v", err)
	}
}

func titles(tasks []model.Task) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.Title
	}
	return out
}
