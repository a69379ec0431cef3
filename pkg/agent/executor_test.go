package agent

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
)

func runAndCapture(t *testing.T, args ...string) error {
	t.Helper()
	cmd := exec.CommandContext(context.Background(), args[0], args[1:]...)
	return cmd.Run()
}

func TestCheckExitErrSuccessIsFinished(t *testing.T) {
	err := runAndCapture(t, "true")
	status, code := checkExitErr(err)
	assert.Equal(t, JobFinished, status)
	assert.Equal(t, Code(0), code)
}

func TestCheckExitErrNonZeroIsFailed(t *testing.T) {
	err := runAndCapture(t, "sh", "-c", "exit 3")
	status, code := checkExitErr(err)
	assert.Equal(t, JobFailed, status)
	assert.Equal(t, Code(3), code)
}

func TestCodeHelperMarksValid(t *testing.T) {
	assert.Equal(t, ExitCode{Code: 7, Valid: true}, Code(7))
	assert.Equal(t, ExitCode{}, None)
}
