package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"eventdesk/internal/storage"
)

func TestWrapErr(t *testing.T) {
	t.Run("deadline expiry becomes ErrUnavailable", func(t *testing.T) {
		err := wrapErr("get item", context.DeadlineExceeded)
		require.ErrorIs(t, err, storage.ErrUnavailable)
	})

	t.Run("other errors pass through wrapped", func(t *testing.T) {
		cause := errors.New("syntax error")
		err := wrapErr("query prefix", cause)
		require.ErrorIs(t, err, cause)
		require.NotErrorIs(t, err, storage.ErrUnavailable)
	})
}
