package failure_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/canvasflow/pkg/failure"
	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	t.Parallel()

	cyclic := failure.Config(failure.CodeCyclicGraph, "a -> a")
	wrapped := fmt.Errorf("submit: %w", cyclic)

	assert.True(t, failure.IsConfig(wrapped))
	assert.False(t, failure.IsExecution(wrapped))
	assert.ErrorIs(t, wrapped, &failure.Error{Kind: failure.KindConfig, Code: failure.CodeCyclicGraph})
	assert.NotErrorIs(t, wrapped, &failure.Error{Kind: failure.KindConfig, Code: failure.CodeDanglingEdge})
	assert.Equal(t, failure.CodeCyclicGraph, failure.CodeOf(wrapped))
	assert.Equal(t, failure.KindConfig, failure.KindOf(wrapped))
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *failure.Error
		want string
	}{
		{
			name: "config with detail",
			err:  failure.Config(failure.CodeDanglingEdge, `edge e1 references unknown node "x"`),
			want: `ConfigError(DanglingEdge): edge e1 references unknown node "x"`,
		},
		{
			name: "execution wraps cause",
			err:  failure.Execution("llm", errors.New("missing GEMINI_API_KEY")),
			want: "ExecutionError node llm: missing GEMINI_API_KEY",
		},
		{
			name: "fatal",
			err:  failure.Fatal("no ready nodes"),
			want: "FatalInvariant: no ready nodes",
		},
		{
			name: "cancelled node",
			err:  failure.Cancelled("b", context.Canceled),
			want: "Cancelled node b: run cancelled: context canceled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf_PlainError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, failure.Kind(""), failure.KindOf(errors.New("boom")))
	assert.False(t, failure.IsFatal(errors.New("boom")))
	assert.True(t, failure.IsCancelled(failure.Cancelled("", nil)))
	assert.ErrorIs(t, failure.Cancelled("", context.Canceled), context.Canceled)
}
