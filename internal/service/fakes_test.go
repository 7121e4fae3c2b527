package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"planner/internal/model"
	"planner/internal/notify"
	"planner/internal/repository"
)

// memTasks is an in-memory task store with call counters.
type memTasks struct {
	mu    sync.Mutex
	tasks map[string]*model.Task
	seq   int

	DueCalls  int
	NextCalls int
	DueErr    error
	NextErr   error
	MarkErr   error

	// SuccessorErr fails the next CreateSuccessor call once.
	SuccessorErr error
}

func newMemTasks(tasks ...model.Task) *memTasks {
	m := &memTasks{tasks: map[string]*model.Task{}}
	for i := range tasks {
		t := tasks[i]
		if t.ID == "" {
			m.seq++
			t.ID = fmt.Sprintf("task-%d", m.seq)
		}
		m.tasks[t.ID] = &t
	}
	return m
}

func (m *memTasks) get(id string) model.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tasks[id]
}

func (m *memTasks) all() []model.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memTasks) Create(_ context.Context, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task.ID == "" {
		m.seq++
		task.ID = fmt.Sprintf("task-%d", m.seq)
	}
	t := *task
	m.tasks[t.ID] = &t
	return nil
}

func (m *memTasks) UpdateDetails(_ context.Context, task *model.Task, rearmReminder bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[task.ID]
	if !ok {
		return repository.ErrNotFound
	}
	t.Title = task.Title
	t.Description = task.Description
	t.ClassID = task.ClassID
	t.DueAt = task.DueAt
	t.ReminderAt = task.ReminderAt
	t.Priority = task.Priority
	t.Recurrence = task.Recurrence
	if rearmReminder {
		t.ReminderSent = false
	}
	return nil
}

// edit mutates a stored task in place.
func (m *memTasks) edit(id string, fn func(*model.Task)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.tasks[id])
}

func (m *memTasks) FindByID(_ context.Context, id string) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *memTasks) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *memTasks) ListOpen(_ context.Context) ([]model.Task, error) {
	var out []model.Task
	for _, t := range m.all() {
		if !t.Completed {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTasks) ListOpenDueBefore(_ context.Context, until time.Time) ([]model.Task, error) {
	var out []model.Task
	for _, t := range m.all() {
		if !t.Completed && t.DueAt != nil && !t.DueAt.After(until) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTasks) DueReminders(_ context.Context, now time.Time) ([]model.Task, error) {
	m.mu.Lock()
	m.DueCalls++
	err := m.DueErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []model.Task
	for _, t := range m.all() {
		if !t.ReminderSent && !t.Completed && t.ReminderAt != nil && !t.ReminderAt.After(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTasks) NextReminder(_ context.Context, now time.Time) (*model.Task, error) {
	m.mu.Lock()
	m.NextCalls++
	err := m.NextErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var best *model.Task
	for _, t := range m.all() {
		t := t
		if t.ReminderSent || t.Completed || t.ReminderAt == nil || !t.ReminderAt.After(now) {
			continue
		}
		if best == nil || t.ReminderAt.Before(*best.ReminderAt) {
			best = &t
		}
	}
	return best, nil
}

func (m *memTasks) MarkReminderSent(_ context.Context, id string, reminderAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkErr != nil {
		return false, m.MarkErr
	}
	t, ok := m.tasks[id]
	if !ok || t.ReminderSent || t.ReminderAt == nil || !t.ReminderAt.Equal(reminderAt) {
		return false, nil
	}
	t.ReminderSent = true
	return true, nil
}

func (m *memTasks) MarkCompleted(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Completed {
		return false, nil
	}
	t.Completed = true
	t.CompletedAt = &at
	return true, nil
}

func (m *memTasks) SetIncomplete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		t.Completed = false
		t.CompletedAt = nil
	}
	return nil
}

func (m *memTasks) CreateSuccessor(_ context.Context, next *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.SuccessorErr; err != nil {
		m.SuccessorErr = nil
		return err
	}
	for _, t := range m.tasks {
		if t.ParentID != nil && *t.ParentID == *next.ParentID {
			return repository.ErrSuccessorExists
		}
	}
	m.seq++
	next.ID = fmt.Sprintf("task-%d", m.seq)
	t := *next
	m.tasks[t.ID] = &t
	return nil
}

// memEndpoints stores push endpoints and records prunes.
type memEndpoints struct {
	mu      sync.Mutex
	eps     []model.PushEndpoint
	ListErr error
	Deleted []string
}

func (m *memEndpoints) List(context.Context) ([]model.PushEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return append([]model.PushEndpoint(nil), m.eps...), nil
}

func (m *memEndpoints) DeleteByEndpoint(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, endpoint)
	kept := m.eps[:0]
	for _, ep := range m.eps {
		if ep.Endpoint != endpoint {
			kept = append(kept, ep)
		}
	}
	m.eps = kept
	return nil
}

func (m *memEndpoints) Upsert(_ context.Context, ep *model.PushEndpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.eps {
		if m.eps[i].Endpoint == ep.Endpoint {
			m.eps[i].P256dh, m.eps[i].Auth = ep.P256dh, ep.Auth
			return nil
		}
	}
	m.eps = append(m.eps, *ep)
	return nil
}

// scriptedPush fails endpoints listed in failures and counts sends.
type scriptedPush struct {
	mu       sync.Mutex
	failures map[string]error
	Sent     map[string]int

	// OnSend runs after each recorded send, outside the lock.
	OnSend func(ep model.PushEndpoint)
}

func (p *scriptedPush) SendPush(_ context.Context, ep model.PushEndpoint, _ []byte) error {
	p.mu.Lock()
	if p.Sent == nil {
		p.Sent = map[string]int{}
	}
	p.Sent[ep.Endpoint]++
	err := p.failures[ep.Endpoint]
	hook := p.OnSend
	p.mu.Unlock()
	if hook != nil {
		hook(ep)
	}
	return err
}

// recordingSender captures messaging sends.
type recordingSender struct {
	mu   sync.Mutex
	Sent []sentMessage
	Err  error
}

type sentMessage struct {
	Address string
	Text    string
}

func (r *recordingSender) Send(_ context.Context, address, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Sent = append(r.Sent, sentMessage{Address: address, Text: text})
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Sent)
}

// memProfiles is an in-memory profile store.
type memProfiles struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile
}

func newMemProfiles(profiles ...model.Profile) *memProfiles {
	m := &memProfiles{profiles: map[string]*model.Profile{}}
	for i := range profiles {
		p := profiles[i]
		m.profiles[p.ID] = &p
	}
	return m
}

func (m *memProfiles) ListDigestRecipients(context.Context) ([]model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Profile
	for _, p := range m.profiles {
		if p.DigestEnabled && p.AddressVerified {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memProfiles) FindByID(_ context.Context, id string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *memProfiles) ClaimDigest(_ context.Context, id, day string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok || p.LastDigestOn == day {
		return false, nil
	}
	p.LastDigestOn = day
	return true, nil
}

func (m *memProfiles) GetOrCreate(_ context.Context, defaults model.Profile) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[defaults.ID]
	if !ok {
		d := defaults
		m.profiles[d.ID] = &d
		p = &d
	}
	c := *p
	return &c, nil
}

func (m *memProfiles) Save(_ context.Context, profile *model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := *profile
	m.profiles[p.ID] = &p
	return nil
}

// memClasses resolves classes by name.
type memClasses struct {
	mu    sync.Mutex
	names map[string]string
}

func (m *memClasses) NamesByID(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.names))
	for k, v := range m.names {
		out[k] = v
	}
	return out, nil
}

func (m *memClasses) GetOrCreate(_ context.Context, name string) (*model.Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.names == nil {
		m.names = map[string]string{}
	}
	for id, n := range m.names {
		if n == name {
			return &model.Class{ID: id, Name: n}, nil
		}
	}
	id := fmt.Sprintf("class-%d", len(m.names)+1)
	m.names[id] = name
	return &model.Class{ID: id, Name: name}, nil
}

// resetCounter counts schedule resets.
type resetCounter struct {
	mu sync.Mutex
	n  int
}

func (r *resetCounter) Reset() {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
}

func (r *resetCounter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// clock is a settable test clock.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func at(t time.Time) *time.Time { return &t }

var _ notify.PushSender = (*scriptedPush)(nil)
