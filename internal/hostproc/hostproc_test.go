package hostproc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	names []string
	err   error
	calls int
}

func (f *fakeLister) ListProcessNames() ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.names, nil
}

func TestFindRunning_ExactCaseInsensitiveMatch(t *testing.T) {
	lister := &fakeLister{names: []string{"explorer.exe", "OUTLOOK.EXE", "chrome.exe"}}
	up, err := FindRunning(lister, "outlook.exe")
	require.NoError(t, err)
	assert.True(t, up)
}

func TestFindRunning_NoMatch(t *testing.T) {
	lister := &fakeLister{names: []string{"explorer.exe"}}
	up, err := FindRunning(lister, "outlook.exe")
	require.NoError(t, err)
	assert.False(t, up)
}

func TestFindRunning_ListerError(t *testing.T) {
	lister := &fakeLister{err: errors.New("boom")}
	_, err := FindRunning(lister, "outlook.exe")
	assert.Error(t, err)
}

func TestWaitProcessUp_AppearsBeforeTimeout(t *testing.T) {
	calls := 0
	lister := &dynamicLister{f: func() []string {
		calls++
		if calls < 3 {
			return nil
		}
		return []string{"OUTLOOK.EXE"}
	}}

	ok := WaitProcessUp(context.Background(), lister, "OUTLOOK.EXE", time.Second, 5*time.Millisecond)
	assert.True(t, ok)
}

func TestWaitProcessUp_TimesOut(t *testing.T) {
	lister := &fakeLister{names: nil}
	ok := WaitProcessUp(context.Background(), lister, "OUTLOOK.EXE", 20*time.Millisecond, 5*time.Millisecond)
	assert.False(t, ok)
}

func TestWaitProcessUp_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lister := &fakeLister{names: nil}
	ok := WaitProcessUp(ctx, lister, "OUTLOOK.EXE", time.Second, 5*time.Millisecond)
	assert.False(t, ok)
}

type dynamicLister struct {
	f func() []string
}

func (d *dynamicLister) ListProcessNames() ([]string, error) {
	return d.f(), nil
}
