package task

import "time"

// StatusView is the externally visible projection of a task.
type StatusView struct {
	TaskID      string     `json:"task_id"`
	Status      Status     `json:"status"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ResultURL   string     `json:"result_url,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ResultView carries the transcript of a completed task.
type ResultView struct {
	TaskID      string    `json:"task_id"`
	Transcript  string    `json:"transcript"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// ResultPath is the relative location of a task's result.
func ResultPath(id string) string {
	return "/result/" + id
}

func NewStatusView(t Task) StatusView {
	v := StatusView{
		TaskID:    t.ID,
		Status:    t.Status,
		Message:   t.Message,
		CreatedAt: t.CreatedAt,
	}
	if !t.StartedAt.IsZero() {
		started := t.StartedAt
		v.StartedAt = &started
	}
	switch t.Status {
	case StatusCompleted:
		completed := t.CompletedAt
		v.CompletedAt = &completed
		v.ResultURL = ResultPath(t.ID)
	case StatusFailed:
		completed := t.CompletedAt
		v.CompletedAt = &completed
		v.Error = t.Error
	}
	return v
}

// Status returns the projection of task id, or ErrNotFound.
func (m *Manager) Status(id string) (StatusView, error) {
	t, err := m.registry.Get(id)
	if err != nil {
		return StatusView{}, err
	}
	return NewStatusView(t), nil
}

// Result returns the transcript of a completed task. Any other state yields
// a *NotCompleteError naming that state.
func (m *Manager) Result(id string) (ResultView, error) {
	t, err := m.registry.Get(id)
	if err != nil {
		return ResultView{}, err
	}
	if t.Status != StatusCompleted {
		return ResultView{}, &NotCompleteError{State: t.Status}
	}
	return ResultView{
		TaskID:      t.ID,
		Transcript:  t.Result,
		URL:         t.URL,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}, nil
}
