package reconcile

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icloudsyncd/internal/caldavclient"
	"icloudsyncd/internal/icalenc"
	"icloudsyncd/internal/model"
	"icloudsyncd/internal/uidkey"
)

// fakeServer is a minimal in-memory CalDAV collection: a uid -> ics map,
// PROPFIND-enumerable, PUT/GET/DELETE-addressable by /<uid>.ics.
type fakeServer struct {
	mu    sync.Mutex
	items map[string]string
}

func newFakeServer(seed map[string]string) *httptest.Server {
	fs := &fakeServer{items: map[string]string{}}
	for k, v := range seed {
		fs.items[k] = v
	}
	return httptest.NewServer(http.HandlerFunc(fs.handle))
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	uid := uidFromPath(r.URL.Path)

	switch r.Method {
	case "PROPFIND":
		var body string
		body = `<?xml version="1.0" encoding="UTF-8"?><d:multistatus xmlns:d="DAV:">`
		for u := range fs.items {
			body += `<d:response><d:href>/cal/` + u + `.ics</d:href>` +
				`<d:propstat><d:prop><d:getetag>"e-` + u + `"</d:getetag></d:prop></d:propstat></d:response>`
		}
		body += `</d:multistatus>`
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(body))
	case http.MethodPut:
		b, _ := io.ReadAll(r.Body)
		fs.items[uid] = string(b)
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		body, ok := fs.items[uid]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	case http.MethodDelete:
		delete(fs.items, uid)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func uidFromPath(p string) string {
	name := p
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			name = p[i+1:]
			break
		}
	}
	if len(name) > 4 && name[len(name)-4:] == ".ics" {
		name = name[:len(name)-4]
	}
	return name
}

type fakeTray struct {
	mu         sync.Mutex
	states     []string
	authModals []string
}

func (f *fakeTray) SetIdle()     { f.record("idle") }
func (f *fakeTray) SetUpdating() { f.record("updating") }
func (f *fakeTray) SetDeleting() { f.record("deleting") }
func (f *fakeTray) UpdateText(string) {}
func (f *fakeTray) ShowAuthFailureModal(detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authModals = append(f.authModals, detail)
}
func (f *fakeTray) ExitClicked() <-chan struct{} { return nil }

func (f *fakeTray) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
}

func newReconciler(t *testing.T, srv *httptest.Server, tray *fakeTray) *Reconciler {
	t.Helper()
	client := caldavclient.New("user", "pass")
	return New(client, srv.URL+"/cal/", "ACME", uidkey.ClassifyOptions{}, icalenc.Options{SourceID: "ACME"}, tray)
}

func desiredWith(events ...model.Event) model.DesiredSet {
	m := make(map[string]model.Event)
	for _, ev := range events {
		uid := uidkey.Build("ACME", ev.GlobalID, ev.StartUTC)
		m[uid] = ev
	}
	state := model.DesiredEmpty
	if len(m) > 0 {
		state = model.DesiredPopulated
	}
	return model.DesiredSet{State: state, Events: m}
}

func TestRun_UpsertsNewEventAndVerifies(t *testing.T) {
	srv := newFakeServer(nil)
	defer srv.Close()
	tray := &fakeTray{}
	r := newReconciler(t, srv, tray)

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ev := model.Event{GlobalID: "g1", Subject: "Lunch", StartUTC: start, EndUTC: start.Add(time.Hour)}

	err := r.Run(context.Background(), desiredWith(ev))
	require.NoError(t, err)

	assert.Contains(t, tray.states, "updating")
	assert.Contains(t, tray.states, "idle")
}

func TestRun_StaleManagedEntryDeletedWhenAbsentFromDesired(t *testing.T) {
	staleUID := uidkey.Build("ACME", "stale", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	srv := newFakeServer(map[string]string{staleUID: "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"})
	defer srv.Close()
	tray := &fakeTray{}
	r := newReconciler(t, srv, tray)

	err := r.Run(context.Background(), desiredWith())
	require.NoError(t, err)
	assert.Contains(t, tray.states, "deleting")
}

func TestRun_NoDataSkipsStaleReap(t *testing.T) {
	keptUID := uidkey.Build("ACME", "kept", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	srv := newFakeServer(map[string]string{keptUID: "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"})
	defer srv.Close()
	tray := &fakeTray{}
	r := newReconciler(t, srv, tray)

	err := r.Run(context.Background(), model.DesiredSet{State: model.DesiredNoData})
	require.NoError(t, err)
	assert.NotContains(t, tray.states, "deleting")
}

func TestRun_AuthFailureDuringEnumerateShowsModal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	tray := &fakeTray{}
	r := newReconciler(t, srv, tray)

	err := r.Run(context.Background(), desiredWith())
	require.Error(t, err)
	assert.NotEmpty(t, tray.authModals)
}

func TestFirstCycleWipe_OnlyDeletesManagedEntries(t *testing.T) {
	managedUID := uidkey.Build("ACME", "managed", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	fs := &fakeServer{items: map[string]string{
		managedUID:    "x",
		"foreign-uid": "y",
	}}
	srv := httptest.NewServer(http.HandlerFunc(fs.handle))
	defer srv.Close()
	tray := &fakeTray{}
	r := newReconciler(t, srv, tray)
	r.wipeSettleDelay = time.Millisecond

	err := r.FirstCycleWipe(context.Background())
	require.NoError(t, err)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, managedStillPresent := fs.items[managedUID]
	assert.False(t, managedStillPresent, "managed entry should have been wiped")
	_, foreignStillPresent := fs.items["foreign-uid"]
	assert.True(t, foreignStillPresent, "foreign entry must survive a filtered first-cycle wipe")
}

