package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"planner/internal/model"
	"planner/internal/repository"
	"planner/internal/service"
)

type settingsView struct {
	DailyDigestEnabled bool   `json:"daily_digest_enabled"`
	DailyDigestTime    string `json:"daily_digest_time"`
	Timezone           string `json:"timezone"`
	Address            string `json:"address,omitempty"`
	AddressVerified    bool   `json:"address_verified"`
	LastDigestOn       string `json:"last_digest_on,omitempty"`
}

func newSettingsView(p *model.Profile) settingsView {
	return settingsView{
		DailyDigestEnabled: p.DigestEnabled,
		DailyDigestTime:    p.DigestTime,
		Timezone:           p.Timezone,
		Address:            p.Address,
		AddressVerified:    p.AddressVerified,
		LastDigestOn:       p.LastDigestOn,
	}
}

type settingsRequest struct {
	DailyDigestEnabled *bool   `json:"daily_digest_enabled"`
	DailyDigestTime    *string `json:"daily_digest_time"`
	Timezone           *string `json:"timezone"`
}

type subscriptionRequest struct {
	Subscription struct {
		Endpoint string `json:"endpoint" binding:"required"`
		Keys     struct {
			P256dh string `json:"p256dh" binding:"required"`
			Auth   string `json:"auth" binding:"required"`
		} `json:"keys"`
	} `json:"subscription"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

type triggerRequest struct {
	ProfileID string `json:"profile_id"`
}

type recurrenceView struct {
	Type     string     `json:"type"`
	Interval int        `json:"interval,omitempty"`
	EndAt    *time.Time `json:"end_at,omitempty"`
}

type taskView struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	DueAt        *time.Time      `json:"due_at,omitempty"`
	ReminderAt   *time.Time      `json:"reminder_at,omitempty"`
	ReminderSent bool            `json:"reminder_sent"`
	Completed    bool            `json:"completed"`
	Priority     string          `json:"priority"`
	ClassID      *string         `json:"class_id,omitempty"`
	Recurrence   *recurrenceView `json:"recurrence,omitempty"`
	ParentID     *string         `json:"parent_id,omitempty"`
}

func newTaskView(t *model.Task) taskView {
	v := taskView{
		ID:           t.ID,
		Title:        t.Title,
		Description:  t.Description,
		DueAt:        t.DueAt,
		ReminderAt:   t.ReminderAt,
		ReminderSent: t.ReminderSent,
		Completed:    t.Completed,
		Priority:     string(t.Priority),
		ClassID:      t.ClassID,
		ParentID:     t.ParentID,
	}
	if t.IsRecurring() {
		v.Recurrence = &recurrenceView{
			Type:     string(t.Recurrence.Type),
			Interval: t.Recurrence.Interval,
			EndAt:    t.Recurrence.EndAt,
		}
	}
	return v
}

type taskRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Class       string          `json:"class"`
	DueAt       *time.Time      `json:"due_at"`
	ReminderAt  *time.Time      `json:"reminder_at"`
	Priority    string          `json:"priority"`
	Recurrence  *recurrenceView `json:"recurrence"`
}

func (r taskRequest) input() service.TaskInput {
	in := service.TaskInput{
		Title:       r.Title,
		Description: r.Description,
		Class:       r.Class,
		DueAt:       r.DueAt,
		ReminderAt:  r.ReminderAt,
		Priority:    model.Priority(r.Priority),
	}
	if r.Recurrence != nil {
		in.Recurrence = model.Recurrence{
			Type:     model.RecurrenceType(r.Recurrence.Type),
			Interval: r.Recurrence.Interval,
			EndAt:    r.Recurrence.EndAt,
		}
	}
	return in
}

type classView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	SortOrder int    `json:"sort_order"`
}

func newClassView(c *model.Class) classView {
	return classView{ID: c.ID, Name: c.Name, Color: c.Color, SortOrder: c.SortOrder}
}

type classRequest struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

type reorderRequest struct {
	ClassIDs []string `json:"class_ids" binding:"required"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleVAPIDKey(c *gin.Context) {
	if s.deps.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "VAPID key not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": s.deps.VAPIDPublicKey})
}

func (s *Server) handleSubscribe(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription data"})
		return
	}
	sub := req.Subscription
	if _, err := s.deps.Subscriptions.Register(c.Request.Context(), sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth); err != nil {
		s.fail(c, err)
		return
	}
	// A new device may be due a reminder right away.
	s.deps.Reminders.Reset()
	c.JSON(http.StatusCreated, gin.H{"message": "Subscription registered"})
}

func (s *Server) handleUnsubscribe(c *gin.Context) {
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Endpoint required"})
		return
	}
	if err := s.deps.Subscriptions.Unregister(c.Request.Context(), req.Endpoint); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Subscription removed"})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	profile, err := s.deps.Settings.Get(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newSettingsView(profile))
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	profile, err := s.deps.Settings.Update(c.Request.Context(), service.SettingsUpdate{
		DigestEnabled: req.DailyDigestEnabled,
		DigestTime:    req.DailyDigestTime,
		Timezone:      req.Timezone,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newSettingsView(profile))
}

func (s *Server) handleUnlinkAddress(c *gin.Context) {
	profile, err := s.deps.Settings.UnlinkAddress(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Address removed", "settings": newSettingsView(profile)})
}

func (s *Server) handleTestMessage(c *gin.Context) {
	if err := s.deps.Settings.SendTest(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Test message sent successfully"})
}

func (s *Server) handleTriggerDaily(c *gin.Context) {
	var req triggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}
	res := s.deps.Digests.TriggerNow(c.Request.Context(), req.ProfileID)
	if !res.Success {
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": res.Message})
}

func (s *Server) handleResetReminders(c *gin.Context) {
	s.deps.Reminders.Reset()
	c.JSON(http.StatusOK, gin.H{"message": "Reminder schedule reset"})
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.deps.Tasks.ListOpen(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	views := make([]taskView, 0, len(tasks))
	for i := range tasks {
		views = append(views, newTaskView(&tasks[i]))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": views, "count": len(views)})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	task, err := s.deps.Tasks.CreateTask(c.Request.Context(), req.input())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTaskView(task))
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	task, err := s.deps.Tasks.UpdateTask(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newTaskView(task))
}

func (s *Server) handleCompleteTask(c *gin.Context) {
	res, err := s.deps.Tasks.CompleteTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	body := gin.H{
		"task":              newTaskView(res.Task),
		"already_completed": res.AlreadyCompleted,
	}
	if res.Successor != nil {
		body["next"] = newTaskView(res.Successor)
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleReopenTask(c *gin.Context) {
	if err := s.deps.Tasks.ReopenTask(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task reopened"})
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.deps.Tasks.DeleteTask(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted"})
}

func (s *Server) handleListClasses(c *gin.Context) {
	classes, err := s.deps.Classes.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	views := make([]classView, 0, len(classes))
	for i := range classes {
		views = append(views, newClassView(&classes[i]))
	}
	c.JSON(http.StatusOK, gin.H{"classes": views})
}

func (s *Server) handleCreateClass(c *gin.Context) {
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Class name required"})
		return
	}
	color := ""
	if req.Color != nil {
		color = *req.Color
	}
	class, err := s.deps.Classes.Create(c.Request.Context(), *req.Name, color)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newClassView(class))
}

func (s *Server) handleUpdateClass(c *gin.Context) {
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	class, err := s.deps.Classes.Update(c.Request.Context(), c.Param("id"), service.ClassUpdate{Name: req.Name, Color: req.Color})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newClassView(class))
}

func (s *Server) handleDeleteClass(c *gin.Context) {
	if err := s.deps.Classes.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Class deleted"})
}

func (s *Server) handleReorderClasses(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "class_ids required"})
		return
	}
	if err := s.deps.Classes.Reorder(c.Request.Context(), req.ClassIDs); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Classes reordered"})
}

// fail maps service errors onto status codes.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAddressNotVerified):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
