package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesAnnotations(t *testing.T) {
	base := New(KindSubprocess, fmt.Errorf("exit status 1"))
	annotated := base.WithJob("web").WithHost("10.0.0.1").WithCommand("start")

	msg := annotated.Error()
	assert.Contains(t, msg, "SubprocessError")
	assert.Contains(t, msg, "job=web")
	assert.Contains(t, msg, "host=10.0.0.1")
	assert.Contains(t, msg, "command=start")
	assert.Contains(t, msg, "exit status 1")
}

func TestErrorMessageOmitsEmptyFields(t *testing.T) {
	base := ResourceViolation("host %s over budget", "10.0.0.1")
	msg := base.Error()
	assert.NotContains(t, msg, "job=")
	assert.NotContains(t, msg, "host=")
	assert.NotContains(t, msg, "command=")
}

func TestWithStderrTruncatesLongOutput(t *testing.T) {
	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'x'
	}
	e := New(KindSubprocess, fmt.Errorf("failed")).WithStderr(string(long))
	msg := e.Error()
	assert.Contains(t, msg, "...(truncated)")
}

func TestWithMethodsDoNotMutateReceiver(t *testing.T) {
	base := New(KindCert, fmt.Errorf("expired"))
	annotated := base.WithJob("web")
	assert.Empty(t, base.Job)
	assert.Equal(t, "web", annotated.Job)
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	e := New(KindSubprocess, cause)
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestIsMatchesByKindNotIdentity(t *testing.T) {
	a := ResourceViolation("a")
	b := ResourceViolation("b")
	assert.True(t, errors.Is(a, b))

	c := PortCollision([]string{"web"}, 8080)
	assert.False(t, errors.Is(a, c))
}

func TestPortCollisionMessageListsJobsAndPort(t *testing.T) {
	e := PortCollision([]string{"web", "api"}, 8080)
	assert.Equal(t, KindPortCollision, e.Kind)
	assert.Contains(t, e.Error(), "8080")
}

func TestMissingCommandAnnotatesJobAndCommand(t *testing.T) {
	e := MissingCommand("web", "start")
	assert.Equal(t, "web", e.Job)
	assert.Equal(t, "start", e.Command)
	assert.Equal(t, KindMissingCommand, e.Kind)
}

func TestBucketMismatchAnnotatesHost(t *testing.T) {
	e := BucketMismatch("10.0.0.1", fmt.Errorf("update_seq mismatch"))
	assert.Equal(t, "10.0.0.1", e.Host)
	assert.Equal(t, KindBucketMismatch, e.Kind)
}

func TestHealthCheckAnnotatesJob(t *testing.T) {
	e := HealthCheck("web", fmt.Errorf("exhausted 20 attempts"))
	assert.Equal(t, "web", e.Job)
	assert.Equal(t, KindHealthCheck, e.Kind)
}
