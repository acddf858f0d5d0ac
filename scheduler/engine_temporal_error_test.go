package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
)

func TestMapExecuteError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{
			name: "not found maps to handler-step not found",
			err:  serviceerror.NewNotFound("workflow execution not found"),
			want: ErrHandlerStepNotFound,
		},
		{
			name: "failed precondition maps to handler-step completed",
			err:  serviceerror.NewFailedPrecondition("workflow execution already completed"),
			want: ErrHandlerStepCompleted,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := mapExecuteError(tc.err)
			if tc.want == nil {
				require.NoError(t, got)
				return
			}
			require.ErrorIs(t, got, tc.want)
		})
	}
}

func TestMapExecuteError_PassesThroughUnknownErrors(t *testing.T) {
	t.Parallel()

	want := errors.New("rpc error: deadline exceeded")
	got := mapExecuteError(want)
	require.ErrorIs(t, got, want)
}
