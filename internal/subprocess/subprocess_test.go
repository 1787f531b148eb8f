package subprocess

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunCapturesSuccessAndExitCode(t *testing.T) {
	ctx := context.Background()

	res, err := Run(ctx, "true")
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, "success", res.Comment)
}

func TestRunCapturesNonZeroExitAsResultNotError(t *testing.T) {
	ctx := context.Background()

	res, err := Run(ctx, "sh", "-c", "exit 101")
	require.NoError(t, err)
	require.Equal(t, 101, res.ExitCode)
	require.Equal(t, "database properties missing", res.Comment)
}

func TestCommentFallsBackToGenericForUnmappedCode(t *testing.T) {
	require.Equal(t, "generic failure (exit 7)", Comment(7))
}

func TestRunReturnsErrorWhenBinaryDoesNotExist(t *testing.T) {
	ctx := context.Background()

	_, err := Run(ctx, "definitely-not-a-real-binary-xyz")
	require.Error(t, err)
}
