package errdefs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"configuration", Configuration("OPENAI_API_KEY is not set"), KindConfiguration},
		{"infrastructure", Infrastructure(errors.New("exit 125"), "launch %s", "batch-001"), KindInfrastructure},
		{"wrapped timeout", Timeout("click", context.DeadlineExceeded), KindTimeout},
		{"bare deadline", fmt.Errorf("observe: %w", context.DeadlineExceeded), KindTimeout},
		{"cancelled", fmt.Errorf("navigate: %w", context.Canceled), KindCancelled},
		{"navigation", fmt.Errorf("%w: login wall", ErrNavigation), KindNavigation},
		{"form", fmt.Errorf("%w: upload rejected", ErrForm), KindForm},
		{"other", errors.New("nil pointer"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestInfrastructure_KeepsCause(t *testing.T) {
	cause := errors.New("no such image")
	err := Infrastructure(cause, "launch %s", "batch-002")

	assert.ErrorIs(t, err, ErrInfrastructure)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "launch batch-002")
}
