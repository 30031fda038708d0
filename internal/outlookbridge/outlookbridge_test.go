package outlookbridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icloudsyncd/internal/hostproc"
	"icloudsyncd/internal/model"
)

type alwaysUpLister struct{ name string }

func (l alwaysUpLister) ListProcessNames() ([]string, error) {
	return []string{l.name}, nil
}

type fakeHost struct {
	createErr error
	appts     []model.Appointment
	fetchErr  error
}

func (f *fakeHost) CreateInstance() error { return f.createErr }
func (f *fakeHost) FetchAppointments(Window) ([]model.Appointment, error) {
	return f.appts, f.fetchErr
}
func (f *fakeHost) Release() {}

func withFakeLister(t *testing.T, processName string) {
	t.Helper()
	orig := hostproc.DefaultLister
	hostproc.DefaultLister = alwaysUpLister{name: processName}
	t.Cleanup(func() { hostproc.DefaultLister = orig })
}

func TestFetchAppointments_SucceedsOnceAttached(t *testing.T) {
	withFakeLister(t, "OUTLOOK.EXE")

	b := New("OUTLOOK.EXE", "")
	defer b.Close()
	b.newHost = func() comHost {
		return &fakeHost{appts: []model.Appointment{{GlobalID: "g1"}}}
	}

	appts, err := b.FetchAppointments(context.Background(), Window{From: time.Now(), To: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, "g1", appts[0].GlobalID)
}

func TestFetchAppointments_SecondCallReusesAttachedHost(t *testing.T) {
	withFakeLister(t, "OUTLOOK.EXE")

	b := New("OUTLOOK.EXE", "")
	defer b.Close()
	createCalls := 0
	b.newHost = func() comHost {
		createCalls++
		return &fakeHost{}
	}

	_, err := b.FetchAppointments(context.Background(), Window{})
	require.NoError(t, err)
	_, err = b.FetchAppointments(context.Background(), Window{})
	require.NoError(t, err)

	assert.Equal(t, 1, createCalls, "the host is constructed once and reused across calls")
}

func TestFetchAppointments_CreateInstanceNeverSucceedsTimesOut(t *testing.T) {
	withFakeLister(t, "OUTLOOK.EXE")

	b := New("OUTLOOK.EXE", "")
	defer b.Close()
	b.newHost = func() comHost {
		return &fakeHost{createErr: errors.New("boom")}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err := b.FetchAppointments(ctx, Window{})
	assert.Error(t, err)
}

func TestClose_SubsequentCallFailsFast(t *testing.T) {
	withFakeLister(t, "OUTLOOK.EXE")

	b := New("OUTLOOK.EXE", "")
	b.newHost = func() comHost { return &fakeHost{} }
	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := b.FetchAppointments(ctx, Window{})
	assert.Error(t, err)
}

func TestClose_IsIdempotent(t *testing.T) {
	b := New("OUTLOOK.EXE", "")
	assert.NotPanics(t, func() {
		b.Close()
		b.Close()
	})
}
