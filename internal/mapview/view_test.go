package mapview

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/geodiary/mapcore/internal/api"
	"github.com/geodiary/mapcore/internal/config"
	"github.com/geodiary/mapcore/internal/dispatcher"
	"github.com/geodiary/mapcore/internal/logging"
	"github.com/geodiary/mapcore/internal/model"
	"github.com/geodiary/mapcore/internal/model/core"
	"github.com/geodiary/mapcore/internal/notify"
	"github.com/geodiary/mapcore/internal/projector"
	"github.com/geodiary/mapcore/internal/session"
	"github.com/geodiary/mapcore/internal/storage"
	"github.com/geodiary/mapcore/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu      sync.Mutex
	token   string
	valid   string
	nextID  int64
	server  []model.RemoteMarker
	created []model.NewMarkerRequest
	calls   []string

	validateErr   error
	validAfter    int // token checks refused before the valid token is accepted
	validateCalls int
	failTitle     bool
}

func (a *fakeAPI) log(call string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call)
}

func (a *fakeAPI) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *fakeAPI) SetToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
}

func (a *fakeAPI) ValidateToken(context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.validateCalls++
	if a.validateErr != nil {
		return false, a.validateErr
	}
	if a.validateCalls <= a.validAfter {
		return false, nil
	}
	return a.token != "" && a.token == a.valid, nil
}

func (a *fakeAPI) ValidateCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.validateCalls
}

func (a *fakeAPI) CreateMarker(_ context.Context, req model.NewMarkerRequest) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created = append(a.created, req)
	a.nextID++
	return a.nextID, nil
}

func (a *fakeAPI) ListMarkers(context.Context) ([]model.RemoteMarker, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.server) == 0 {
		return nil, api.ErrNoMarkers
	}
	return a.server, nil
}

func (a *fakeAPI) UpdateVisibility(context.Context, int64, bool) error {
	a.log("visibility")
	return nil
}

func (a *fakeAPI) UpdateTitle(context.Context, int64, string) error {
	a.log("title")
	if a.failTitle {
		return fmt.Errorf("%w: title returned status 500", core.ErrNetwork)
	}
	return nil
}

func (a *fakeAPI) UpdateDescription(context.Context, int64, string) error {
	a.log("description")
	return nil
}

func (a *fakeAPI) UpdateCategory(context.Context, int64, string) error {
	a.log("category")
	return nil
}

func (a *fakeAPI) DeleteImage(context.Context, string) error {
	a.log("delete-image")
	return nil
}

func (a *fakeAPI) UploadImage(_ context.Context, _ int64, img core.LocalImage) (string, error) {
	a.log("upload")
	return "https://cdn/" + img.Name, nil
}

func (a *fakeAPI) DeleteMarker(context.Context, int64) error {
	a.log("delete")
	return nil
}

type fixture struct {
	view  *View
	api   *fakeAPI
	cache *storage.MarkerCache
}

func newFixture(t *testing.T, prompter Prompter) *fixture {
	t.Helper()
	backend := memory.New()
	require.NoError(t, backend.Init())

	d, err := dispatcher.New(logging.NewEventLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(d.Close)

	f := &fixture{
		api:   &fakeAPI{valid: "good", nextID: 100},
		cache: storage.NewMarkerCache(backend),
	}
	f.view, err = New(Dependencies{
		API:        f.api,
		Cache:      f.cache,
		Prompter:   prompter,
		Dispatcher: d,
		Creation:   config.CreationConfig{Throttle: time.Millisecond, LongPress: 10 * time.Millisecond},
		Fetch:      config.FetchConfig{InitialTimeout: 50 * time.Millisecond, Factor: 1.4, MaxAttempts: 0},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.view.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func (f *fixture) do(t *testing.T, cmd string, pos *core.Position, fields map[string]string) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.view.Do(ctx, dispatcher.Event{Command: cmd, Position: pos, Fields: fields})
}

func (f *fixture) cached(t *testing.T) []model.CachedMarker {
	t.Helper()
	markers, err := f.cache.Load(context.Background())
	require.NoError(t, err)
	return markers
}

func at(lat, lng float64) *core.Position {
	return &core.Position{Lat: lat, Lng: lng}
}

func TestLongPressCreatesAnonymousMarker(t *testing.T) {
	f := newFixture(t, StaticPrompter{})

	_, err := f.do(t, CmdPointerDown, at(48.1, 11.5), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.view.Registry.Len() == 1 }, time.Second, 5*time.Millisecond)

	// the long press is handled on the loop; a barrier event makes the cache write visible
	_, _ = f.do(t, CmdPointerUp, nil, nil)
	cached := f.cached(t)
	require.Len(t, cached, 1)
	assert.Equal(t, 48.1, cached[0].Latitude)
	assert.Equal(t, int64(0), cached[0].ID)
	assert.Equal(t, session.Selected, f.view.Session.State())

	icon, ok := f.view.Layer.Icon(f.view.Registry.Markers()[0])
	require.True(t, ok)
	assert.Equal(t, projector.SelectedIconURL, icon.URL)
}

func TestPointerUpCancelsLongPress(t *testing.T) {
	f := newFixture(t, StaticPrompter{})

	_, err := f.do(t, CmdPointerDown, at(1, 1), nil)
	require.NoError(t, err)
	_, err = f.do(t, CmdPointerUp, nil, nil)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	_, _ = f.do(t, CmdPointerUp, nil, nil)
	assert.Equal(t, 0, f.view.Registry.Len())
}

func TestSignInMigratesLocalMarkers(t *testing.T) {
	f := newFixture(t, StaticPrompter{Migrate: true})
	require.NoError(t, f.cache.Save(context.Background(), []model.CachedMarker{
		{Latitude: 1, Longitude: 1, Title: "offline"},
	}))
	f.api.server = []model.RemoteMarker{{ID: 5, Latitude: 2, Longitude: 2, Title: "remote"}}

	_, err := f.do(t, CmdSignIn, nil, map[string]string{"token": "good", "name": "me"})
	require.NoError(t, err)

	assert.True(t, f.view.Auth().Authenticated())
	assert.Equal(t, 2, f.view.Registry.Len())
	m, ok := f.view.Registry.At(core.Position{Lat: 1, Lng: 1})
	require.True(t, ok)
	assert.Equal(t, core.Persisted, m.State())
	assert.Equal(t, "offline", m.Title)
	assert.Empty(t, f.cached(t))
	require.Len(t, f.api.created, 1)
	assert.Equal(t, "offline", f.api.created[0].Title)
}

func TestSignInRejectedTokenStaysAnonymous(t *testing.T) {
	f := newFixture(t, StaticPrompter{})

	_, err := f.do(t, CmdSignIn, nil, map[string]string{"token": "expired"})

	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.False(t, f.view.Auth().Authenticated())
	assert.Equal(t, 1+tokenRetries, f.api.ValidateCalls())
	assert.Empty(t, f.api.token)
	var warned bool
	for _, n := range f.view.Notes.Drain() {
		warned = warned || n.Level == notify.Warning
	}
	assert.True(t, warned)
}

func TestAuthenticatedEditCommit(t *testing.T) {
	f := newFixture(t, StaticPrompter{Save: true})
	f.api.server = []model.RemoteMarker{{ID: 5, Latitude: 2, Longitude: 2, Title: "remote"}}
	_, err := f.do(t, CmdSignIn, nil, map[string]string{"token": "good"})
	require.NoError(t, err)

	_, err = f.do(t, CmdSelect, nil, map[string]string{"id": "5"})
	require.NoError(t, err)
	_, err = f.do(t, CmdEdit, nil, map[string]string{"title": "renamed", "public": "false"})
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not really a jpeg"), 0644))
	_, err = f.do(t, CmdAddImage, nil, map[string]string{"path": path})
	require.NoError(t, err)

	_, err = f.do(t, CmdClose, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"visibility", "title", "upload"}, f.api.Calls())
	m, _ := f.view.Registry.Find(5)
	assert.Equal(t, "renamed", m.Title)
	assert.Equal(t, []string{"https://cdn/photo.jpg"}, m.ImageURLs)
	assert.Equal(t, session.Unselected, f.view.Session.State())
}

func TestEditRejectsUnknownField(t *testing.T) {
	f := newFixture(t, StaticPrompter{})
	f.view.locator.Set(core.Position{Lat: 3, Lng: 3})
	_, err := f.do(t, CmdCreateHere, nil, nil)
	require.NoError(t, err)

	_, err = f.do(t, CmdEdit, nil, map[string]string{"colour": "red"})
	assert.Error(t, err)
	_, err = f.do(t, CmdEdit, nil, map[string]string{"public": "maybe"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCreateHere(t *testing.T) {
	f := newFixture(t, StaticPrompter{})

	_, err := f.do(t, CmdCreateHere, nil, nil)
	assert.ErrorIs(t, err, core.ErrNoPosition)

	_, err = f.do(t, CmdDevicePosition, nil, map[string]string{"coords": "10.5, 20.25"})
	require.NoError(t, err)
	v, err := f.do(t, CmdCreateHere, nil, nil)
	require.NoError(t, err)
	m := v.(*core.Marker)
	assert.Equal(t, core.Position{Lat: 10.5, Lng: 20.25}, m.Position())
}

func TestDeletingLastMarkerClearsCache(t *testing.T) {
	f := newFixture(t, StaticPrompter{Delete: true})
	_, err := f.do(t, CmdLongPress, at(4, 4), nil)
	require.NoError(t, err)
	require.Len(t, f.cached(t), 1)

	state, err := f.do(t, CmdDelete, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, session.Removed, state)

	assert.Empty(t, f.cached(t))
	assert.Equal(t, 0, f.view.Layer.Len())
}

func TestSignOutShowsLocalMarkers(t *testing.T) {
	f := newFixture(t, StaticPrompter{})
	f.api.server = []model.RemoteMarker{{ID: 5, Latitude: 2, Longitude: 2}}
	_, err := f.do(t, CmdSignIn, nil, map[string]string{"token": "good"})
	require.NoError(t, err)
	require.Equal(t, 1, f.view.Registry.Len())

	_, err = f.do(t, CmdSignOut, nil, nil)
	require.NoError(t, err)

	assert.False(t, f.view.Auth().Authenticated())
	assert.Equal(t, 0, f.view.Registry.Len())
	assert.Empty(t, f.api.token)
}

func TestStartLoadsCacheWhenAnonymous(t *testing.T) {
	f := newFixture(t, StaticPrompter{})
	require.NoError(t, f.cache.Save(context.Background(), []model.CachedMarker{
		{Latitude: 1, Longitude: 1}, {Latitude: 2, Longitude: 2},
	}))

	require.NoError(t, f.view.Start(context.Background(), core.Auth{}))

	assert.Equal(t, 2, f.view.Registry.Len())
	assert.Equal(t, 2, f.view.Layer.Len())
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t, StaticPrompter{})
	_, err := f.do(t, ":NOPE:", nil, nil)
	assert.Error(t, err)
}

// signedIn signs the fixture in with two server markers, 5 and 6.
func (f *fixture) signedIn(t *testing.T) (*core.Marker, *core.Marker) {
	t.Helper()
	f.api.server = []model.RemoteMarker{
		{ID: 5, Latitude: 2, Longitude: 2, Title: "first"},
		{ID: 6, Latitude: 3, Longitude: 3, Title: "second"},
	}
	_, err := f.do(t, CmdSignIn, nil, map[string]string{"token": "good"})
	require.NoError(t, err)
	a, ok := f.view.Registry.Find(5)
	require.True(t, ok)
	b, ok := f.view.Registry.Find(6)
	require.True(t, ok)
	return a, b
}

func (f *fixture) editTitle(t *testing.T, id, title string) {
	t.Helper()
	_, err := f.do(t, CmdSelect, nil, map[string]string{"id": id})
	require.NoError(t, err)
	_, err = f.do(t, CmdEdit, nil, map[string]string{"title": title})
	require.NoError(t, err)
}

func TestSelectingAnotherMarkerSavesDirtyEdits(t *testing.T) {
	f := newFixture(t, StaticPrompter{Save: true})
	a, b := f.signedIn(t)
	f.editTitle(t, "5", "unsaved")

	_, err := f.do(t, CmdSelect, nil, map[string]string{"id": "6"})
	require.NoError(t, err)

	assert.Equal(t, []string{"title"}, f.api.Calls())
	assert.Equal(t, "unsaved", a.Title)
	assert.Same(t, b, f.view.Session.Marker())
	assert.Equal(t, session.Selected, f.view.Session.State())
}

func TestSelectingAnotherMarkerDropsDeclinedEdits(t *testing.T) {
	f := newFixture(t, StaticPrompter{Save: false})
	a, b := f.signedIn(t)
	f.editTitle(t, "5", "unsaved")

	_, err := f.do(t, CmdSelect, nil, map[string]string{"id": "6"})
	require.NoError(t, err)

	assert.Empty(t, f.api.Calls())
	assert.Equal(t, "first", a.Title)
	assert.Same(t, b, f.view.Session.Marker())
}

func TestReselectingDirtyMarkerSavesEdits(t *testing.T) {
	f := newFixture(t, StaticPrompter{Save: true})
	a, _ := f.signedIn(t)
	f.editTitle(t, "5", "unsaved")

	_, err := f.do(t, CmdSelect, nil, map[string]string{"id": "5"})
	require.NoError(t, err)

	assert.Equal(t, []string{"title"}, f.api.Calls())
	assert.Equal(t, "unsaved", a.Title)
	assert.False(t, f.view.Session.Dirty())
}

func TestFailedSaveKeepsEditSessionOpen(t *testing.T) {
	f := newFixture(t, StaticPrompter{Save: true})
	a, _ := f.signedIn(t)
	f.api.failTitle = true
	f.editTitle(t, "5", "unsaved")

	_, err := f.do(t, CmdSelect, nil, map[string]string{"id": "6"})

	assert.ErrorIs(t, err, core.ErrNetwork)
	assert.Same(t, a, f.view.Session.Marker())
	assert.True(t, f.view.Session.Dirty())
	snap, err := f.view.Session.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "unsaved", snap.Title)
}

func TestLongPressSavesDirtyEdits(t *testing.T) {
	f := newFixture(t, StaticPrompter{Save: true})
	a, _ := f.signedIn(t)
	f.editTitle(t, "5", "unsaved")

	v, err := f.do(t, CmdLongPress, at(9, 9), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"title"}, f.api.Calls())
	assert.Equal(t, "unsaved", a.Title)
	assert.Same(t, v.(*core.Marker), f.view.Session.Marker())
	assert.Equal(t, 3, f.view.Registry.Len())
}

func TestSignOutSavesDirtyEdits(t *testing.T) {
	f := newFixture(t, StaticPrompter{Save: true})
	a, _ := f.signedIn(t)
	f.editTitle(t, "5", "unsaved")

	_, err := f.do(t, CmdSignOut, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"title"}, f.api.Calls())
	assert.Equal(t, "unsaved", a.Title)
	assert.Equal(t, session.Unselected, f.view.Session.State())
}

func TestSignInSavesLocalDirtyEdits(t *testing.T) {
	f := newFixture(t, StaticPrompter{Save: true, Migrate: true})
	_, err := f.do(t, CmdLongPress, at(1, 1), nil)
	require.NoError(t, err)
	_, err = f.do(t, CmdEdit, nil, map[string]string{"title": "offline"})
	require.NoError(t, err)

	_, err = f.do(t, CmdSignIn, nil, map[string]string{"token": "good"})
	require.NoError(t, err)

	require.Len(t, f.api.created, 1)
	assert.Equal(t, "offline", f.api.created[0].Title)
	assert.Equal(t, session.Unselected, f.view.Session.State())
}

type failingPrompter struct{ StaticPrompter }

func (failingPrompter) ConfirmMigration(context.Context, int) (bool, error) {
	return false, errors.New("dialog closed")
}

func TestSignInFailureKeepsAnonymousState(t *testing.T) {
	f := newFixture(t, failingPrompter{})
	_, err := f.do(t, CmdLongPress, at(1, 1), nil)
	require.NoError(t, err)

	_, err = f.do(t, CmdSignIn, nil, map[string]string{"token": "good"})
	require.Error(t, err)

	assert.False(t, f.view.Auth().Authenticated())
	assert.Empty(t, f.api.token)
	assert.Equal(t, 1, f.view.Registry.Len())
	require.NoError(t, f.view.Start(context.Background(), core.Auth{}))
	assert.Len(t, f.cached(t), 1)
}

func TestSignInRetriesTokenCheck(t *testing.T) {
	f := newFixture(t, StaticPrompter{})
	f.api.validAfter = 2

	_, err := f.do(t, CmdSignIn, nil, map[string]string{"token": "good"})
	require.NoError(t, err)

	assert.True(t, f.view.Auth().Authenticated())
	assert.Equal(t, 3, f.api.ValidateCalls())
}

func TestSignInUnauthorizedEmail(t *testing.T) {
	f := newFixture(t, StaticPrompter{})
	f.api.validateErr = api.ErrUnauthorizedEmail

	_, err := f.do(t, CmdSignIn, nil, map[string]string{"token": "good"})

	assert.ErrorIs(t, err, ErrUnauthorizedEmail)
	assert.False(t, f.view.Auth().Authenticated())
	assert.Equal(t, 1, f.api.ValidateCalls())
	notes := f.view.Notes.Drain()
	require.NotEmpty(t, notes)
	assert.Equal(t, notify.Error, notes[len(notes)-1].Level)
	assert.Contains(t, notes[len(notes)-1].Message, "Unauthorized email")
}
