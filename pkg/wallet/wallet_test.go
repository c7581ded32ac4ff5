package wallet

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUserRejection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"eip-1193 rejection", NewError(4001, "User rejected the request."), true},
		{"request denied", NewError(5000, "denied"), true},
		{"ethers action rejected", NewError("ACTION_REJECTED", "user rejected action"), true},
		{"wrapped rejection", fmt.Errorf("sign: %w", ErrUserRejected()), true},
		{"internal error", NewError(-32603, "internal"), false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUserRejection(tt.err))
		})
	}
}

func TestApprove(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, approve(ctx, nil, SignRequest{}))
	require.NoError(t, approve(ctx, AutoApprove, SignRequest{}))

	deny := ApproverFunc(func(context.Context, SignRequest) (bool, error) { return false, nil })
	assert.True(t, IsUserRejection(approve(ctx, deny, SignRequest{})))

	broken := ApproverFunc(func(context.Context, SignRequest) (bool, error) { return false, errors.New("tty closed") })
	err := approve(ctx, broken, SignRequest{})
	require.Error(t, err)
	assert.False(t, IsUserRejection(err))

	interrupted := ApproverFunc(func(context.Context, SignRequest) (bool, error) { return false, context.Canceled })
	assert.True(t, IsUserRejection(approve(ctx, interrupted, SignRequest{})))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Code: CodeInternal, Message: "failed", Err: errors.New("cause")}
	assert.Equal(t, "wallet error -32603: failed: cause", err.Error())
	assert.Equal(t, "wallet error 4001: user rejected the request", ErrUserRejected().Error())
}
