// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/claimr-tools/claimr-go/internal/retry"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type Mock struct {
	mock.Mock
}

var (
	errRetryable = errors.New("this error is retryable")
	errFatal     = errors.New("this error is fatal")
)

func (m *Mock) TaskExec(context.Context) error {
	args := m.Called()
	return args.Error(0)
}

func (*Mock) TaskCond(err error) bool {
	return err == errRetryable
}

func (m *Mock) task(name string) retry.Task {
	return retry.Task{Name: name, Exec: m.TaskExec, Cond: m.TaskCond}
}

func TestNoRetry(t *testing.T) {
	m := new(Mock)
	m.On("TaskExec").Return(nil)

	b := &retry.Backoff{}
	require.NoError(t, b.Start(context.Background(), m.task("TestNoRetry")))
	m.AssertNumberOfCalls(t, "TaskExec", 1)
}

func TestMaxAttempts(t *testing.T) {
	m := new(Mock)
	m.On("TaskExec").Return(errRetryable)

	b := &retry.Backoff{MaxAttempts: 3, Jitter: true}
	err := b.Start(context.Background(), m.task("TestMaxAttempts"))
	require.ErrorIs(t, err, errRetryable)
	m.AssertNumberOfCalls(t, "TaskExec", 3)
}

func TestRetryUntilSuccess(t *testing.T) {
	m := new(Mock)
	m.On("TaskExec").Twice().Return(errRetryable)
	m.On("TaskExec").Once().Return(nil)

	b := &retry.Backoff{}
	require.NoError(t, b.Start(context.Background(), m.task("TestRetryUntilSuccess")))
	m.AssertNumberOfCalls(t, "TaskExec", 3)
}

func TestNonRetryable(t *testing.T) {
	m := new(Mock)
	m.On("TaskExec").Return(errFatal)

	b := &retry.Backoff{}
	err := b.Start(context.Background(), m.task("TestNonRetryable"))
	require.ErrorIs(t, err, errFatal)
	m.AssertNumberOfCalls(t, "TaskExec", 1)
}

func TestTimeout(t *testing.T) {
	m := new(Mock)
	m.On("TaskExec").Return(errRetryable)

	b := &retry.Backoff{Timeout: 300 * time.Millisecond}
	err := b.Start(context.Background(), m.task("TestTimeout"))
	require.ErrorIs(t, err, errRetryable)
}

func TestCancelled(t *testing.T) {
	m := new(Mock)
	m.On("TaskExec").Return(errRetryable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := &retry.Backoff{}
	err := b.Start(ctx, m.task("TestCancelled"))
	require.ErrorIs(t, err, errRetryable)
	m.AssertNumberOfCalls(t, "TaskExec", 1)
}
