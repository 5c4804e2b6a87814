package runstate_test

import (
	"testing"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/runstate"
	"github.com/stretchr/testify/assert"
)

func TestCheckNode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to models.RunStatus
		allowed  bool
	}{
		{models.RunStatusPending, models.RunStatusRunning, true},
		{models.RunStatusPending, models.RunStatusFailed, true},
		{models.RunStatusRunning, models.RunStatusCompleted, true},
		{models.RunStatusRunning, models.RunStatusFailed, true},
		{models.RunStatusPending, models.RunStatusCompleted, false},
		{models.RunStatusRunning, models.RunStatusRunning, false},
		{models.RunStatusRunning, models.RunStatusPending, false},
		{models.RunStatusCompleted, models.RunStatusFailed, false},
		{models.RunStatusFailed, models.RunStatusRunning, false},
		{models.RunStatusCompleted, models.RunStatusCompleted, false},
		{models.RunStatus("BOGUS"), models.RunStatusRunning, false},
		{models.RunStatusRunning, models.RunStatus("DONE"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()

			err := runstate.CheckNode("a", tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)

				return
			}

			assert.True(t, runstate.IsInvalidTransition(err))
		})
	}
}

func TestCheckRun(t *testing.T) {
	t.Parallel()

	assert.NoError(t, runstate.CheckRun("r", models.RunStatusPending, models.RunStatusRunning))
	assert.NoError(t, runstate.CheckRun("r", models.RunStatusRunning, models.RunStatusCompleted))
	assert.NoError(t, runstate.CheckRun("r", models.RunStatusPending, models.RunStatusFailed))

	err := runstate.CheckRun("r", models.RunStatusCompleted, models.RunStatusFailed)
	assert.ErrorIs(t, err, runstate.ErrInvalidTransition)
	assert.EqualError(t, err, "workflow run r: cannot move from COMPLETED to FAILED")
}
