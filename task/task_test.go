package task

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_Transitions(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("pending to processing to completed", func(t *testing.T) {
		tk := &Task{Status: StatusPending, CreatedAt: base}

		require.NoError(t, tk.start(base.Add(time.Second)))
		assert.Equal(t, StatusProcessing, tk.Status)
		require.NoError(t, tk.setMessage("Extracting audio"))
		assert.Equal(t, "Extracting audio", tk.Message)

		require.NoError(t, tk.complete(base.Add(2*time.Second), "hola mundo"))
		assert.Equal(t, StatusCompleted, tk.Status)
		assert.Equal(t, "hola mundo", tk.Result)
		assert.Empty(t, tk.Error)
		assert.Equal(t, MessageCompleted, tk.Message)
	})

	t.Run("pending to processing to failed", func(t *testing.T) {
		tk := &Task{Status: StatusPending, CreatedAt: base}

		require.NoError(t, tk.start(base))
		require.NoError(t, tk.fail(base, NewStageError(TranscodeFailed, errors.New("invalid data found"))))
		assert.Equal(t, StatusFailed, tk.Status)
		assert.Empty(t, tk.Result)
		assert.Equal(t, "TranscodeFailed: invalid data found", tk.Error)
		assert.Equal(t, "Error: TranscodeFailed: invalid data found", tk.Message)
	})

	t.Run("terminal states cannot be left", func(t *testing.T) {
		for _, status := range []Status{StatusCompleted, StatusFailed} {
			tk := &Task{Status: status}
			assert.ErrorIs(t, tk.start(base), ErrInvalidTransition)
			assert.ErrorIs(t, tk.complete(base, "x"), ErrInvalidTransition)
			assert.ErrorIs(t, tk.fail(base, errors.New("x")), ErrInvalidTransition)
			assert.ErrorIs(t, tk.setMessage("x"), ErrInvalidTransition)
		}
	})

	t.Run("pending cannot skip processing", func(t *testing.T) {
		tk := &Task{Status: StatusPending}
		assert.ErrorIs(t, tk.complete(base, "x"), ErrInvalidTransition)
		assert.ErrorIs(t, tk.fail(base, errors.New("x")), ErrInvalidTransition)
		assert.ErrorIs(t, tk.setMessage("x"), ErrInvalidTransition)
	})

	t.Run("timestamps stay ordered when the clock steps back", func(t *testing.T) {
		tk := &Task{Status: StatusPending, CreatedAt: base}

		require.NoError(t, tk.start(base.Add(-time.Minute)))
		require.NoError(t, tk.complete(base.Add(-2*time.Minute), "x"))
		assert.False(t, tk.StartedAt.Before(tk.CreatedAt))
		assert.False(t, tk.CompletedAt.Before(tk.StartedAt))
	})
}

func TestStageError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStageError(FetchFailed, cause)

	assert.Equal(t, "FetchFailed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, FetchFailed, KindOf(err))
	assert.Equal(t, InternalError, KindOf(errors.New("plain")))
}

func TestNotCompleteError(t *testing.T) {
	err := &NotCompleteError{State: StatusProcessing}

	assert.ErrorIs(t, err, ErrNotCompleteYet)
	assert.Contains(t, err.Error(), "processing")
}
