package mapview

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/geodiary/mapcore/internal/dispatcher"
	"github.com/geodiary/mapcore/internal/geo"
	"github.com/geodiary/mapcore/internal/model/core"
)

// Commands understood by the view.
const (
	CmdSignIn  = ":AUTH:SIGNIN:"
	CmdSignOut = ":AUTH:SIGNOUT:"

	CmdPointerDown    = ":POINTER:DOWN:"
	CmdPointerUp      = ":POINTER:UP:"
	CmdPointerOut     = ":POINTER:OUT:"
	CmdPointerOnMap   = ":POINTER:ONMAP:"
	CmdDragStart      = ":DRAG:START:"
	CmdDragEnd        = ":DRAG:END:"
	CmdBoxZoomStart   = ":BOXZOOM:START:"
	CmdBoxZoomEnd     = ":BOXZOOM:END:"
	CmdLongPress      = ":LONGPRESS:"
	CmdDevicePosition = ":DEVICE:POSITION:"
	CmdCreateHere     = ":CREATE:HERE:"

	CmdSelect      = ":MARKER:SELECT:"
	CmdEdit        = ":MARKER:EDIT:"
	CmdAddImage    = ":MARKER:IMAGE:ADD:"
	CmdRemoveImage = ":MARKER:IMAGE:REMOVE:"
	CmdCommit      = ":MARKER:COMMIT:"
	CmdClose       = ":MARKER:CLOSE:"
	CmdDiscard     = ":MARKER:DISCARD:"
	CmdDelete      = ":MARKER:DELETE:"
)

// RegisterHandlers registers every view handler with the dispatcher.
// Handlers are synchronous: they run on the interaction loop.
func (v *View) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Authentication
	d.Register(CmdSignIn, v.handleSignIn, dispatcher.Logged(), dispatcher.Timed(), dispatcher.Expected(ErrInvalidToken, ErrUnauthorizedEmail))
	d.Register(CmdSignOut, v.handleSignOut, dispatcher.Logged())

	// Pointer gestures feeding the long-press detector
	d.Register(CmdPointerDown, v.handlePointerDown)
	d.Register(CmdPointerUp, v.simple(v.Creation.PointerUp))
	d.Register(CmdPointerOut, v.simple(v.Creation.PointerOut))
	d.Register(CmdDragStart, v.simple(v.Creation.DragStart))
	d.Register(CmdDragEnd, v.simple(v.Creation.DragEnd))
	d.Register(CmdBoxZoomStart, v.simple(v.Creation.BoxZoomStart))
	d.Register(CmdBoxZoomEnd, v.simple(v.Creation.BoxZoomEnd))
	d.Register(CmdPointerOnMap, v.handlePointerOnMap)

	// Creation
	creationOpts := []dispatcher.Option{
		dispatcher.Logged(),
		dispatcher.Timed(),
		dispatcher.Expected(core.ErrRateLimited, core.ErrConflict, core.ErrNoPosition, core.ErrValidation),
	}
	d.Register(CmdLongPress, v.handleLongPress, creationOpts...)
	d.Register(CmdDevicePosition, v.handleDevicePosition)
	d.Register(CmdCreateHere, v.handleCreateHere, creationOpts...)

	// Edit session
	d.Register(CmdSelect, v.handleSelect, dispatcher.Logged(), dispatcher.Expected(core.ErrValidation))
	d.Register(CmdEdit, v.handleEdit)
	d.Register(CmdAddImage, v.handleAddImage, dispatcher.Logged())
	d.Register(CmdRemoveImage, v.handleRemoveImage)
	d.Register(CmdCommit, v.handleCommit, dispatcher.Logged(), dispatcher.Timed(), dispatcher.Expected(core.ErrValidation))
	d.Register(CmdClose, v.handleClose, dispatcher.Logged(), dispatcher.Timed(), dispatcher.Expected(core.ErrValidation))
	d.Register(CmdDiscard, v.simple(v.Session.Discard))
	d.Register(CmdDelete, v.handleDelete, dispatcher.Logged(), dispatcher.Timed())
}

func (v *View) simple(f func()) dispatcher.HandlerFunc {
	return func(dispatcher.Event) (any, error) {
		f()
		return nil, nil
	}
}

func (v *View) handleSignIn(e dispatcher.Event) (any, error) {
	token := e.Field("token")
	if token == "" {
		return nil, fmt.Errorf("sign in: missing token")
	}
	auth := core.Auth{
		Token: token,
		User: &core.Owner{
			Name:      e.Field("name"),
			Email:     e.Field("email"),
			AvatarURL: e.Field("avatar"),
		},
	}
	return nil, v.SignIn(v.loopContext(), auth)
}

func (v *View) handleSignOut(dispatcher.Event) (any, error) {
	return nil, v.SignOut(v.loopContext())
}

func (v *View) handlePointerDown(e dispatcher.Event) (any, error) {
	pos, err := eventPosition(e)
	if err != nil {
		return nil, err
	}
	v.Creation.PointerDown(pos)
	return nil, nil
}

func (v *View) handlePointerOnMap(e dispatcher.Event) (any, error) {
	on, err := strconv.ParseBool(e.Field("onMap"))
	if err != nil {
		return nil, fmt.Errorf("pointer on map: %w", err)
	}
	v.Creation.SetPointerOnMap(on)
	return nil, nil
}

func (v *View) handleLongPress(e dispatcher.Event) (any, error) {
	pos, err := eventPosition(e)
	if err != nil {
		return nil, err
	}
	ctx := v.loopContext()
	if err := v.closeDirtySession(ctx); err != nil {
		return nil, err
	}
	return v.Creation.Create(ctx, pos, v.Auth())
}

func (v *View) handleDevicePosition(e dispatcher.Event) (any, error) {
	if e.Field("unavailable") == "true" {
		v.locator.Clear()
		return nil, nil
	}
	pos, err := eventPosition(e)
	if err != nil {
		return nil, err
	}
	v.locator.Set(pos)
	return nil, nil
}

func (v *View) handleCreateHere(dispatcher.Event) (any, error) {
	ctx := v.loopContext()
	if err := v.closeDirtySession(ctx); err != nil {
		return nil, err
	}
	return v.Creation.CreateAtCurrentPosition(ctx, v.Auth())
}

func (v *View) handleSelect(e dispatcher.Event) (any, error) {
	var m *core.Marker
	var ok bool
	if id := e.Field("id"); id != "" {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("select: invalid id %q", id)
		}
		m, ok = v.Registry.Find(n)
	} else {
		pos, err := eventPosition(e)
		if err != nil {
			return nil, err
		}
		m, ok = v.Registry.At(pos)
	}
	if !ok {
		return nil, core.ErrUnknownMarker
	}
	if err := v.closeDirtySession(v.loopContext()); err != nil {
		return nil, err
	}
	return m, v.Session.Select(m)
}

// closeDirtySession asks about unsaved changes before the user moves to
// another marker. A save that fails keeps the session open and aborts the
// move.
func (v *View) closeDirtySession(ctx context.Context) error {
	if !v.Session.Dirty() {
		return nil
	}
	return v.Session.Close(ctx, v.Auth())
}

// handleEdit copies the fields present in the event into the working copy.
func (v *View) handleEdit(e dispatcher.Event) (any, error) {
	snap, err := v.Session.Snapshot()
	if err != nil {
		return nil, err
	}
	for key, value := range e.Fields {
		switch key {
		case "title":
			snap.Title = value
		case "description":
			snap.Description = value
		case "category":
			snap.Category = value
		case "public":
			public, err := strconv.ParseBool(value)
			if err != nil {
				return nil, &core.ValidationError{Field: "public", Reason: "not a boolean"}
			}
			snap.Public = public
		default:
			return nil, fmt.Errorf("edit: unknown field %q", key)
		}
	}
	return nil, v.Session.Apply(snap)
}

func (v *View) handleAddImage(e dispatcher.Event) (any, error) {
	path := e.Field("path")
	if path == "" {
		return nil, fmt.Errorf("add image: missing path")
	}
	img, err := readImage(path)
	if err != nil {
		return nil, err
	}
	return v.Session.AddImage(img)
}

func (v *View) handleRemoveImage(e dispatcher.Event) (any, error) {
	if u := e.Field("url"); u != "" {
		return v.Session.RemoveImageURL(u), nil
	}
	return v.Session.RemoveImage(e.Field("id")), nil
}

func (v *View) handleCommit(dispatcher.Event) (any, error) {
	return nil, v.Session.Commit(v.loopContext(), v.Auth())
}

func (v *View) handleClose(dispatcher.Event) (any, error) {
	return nil, v.Session.Close(v.loopContext(), v.Auth())
}

func (v *View) handleDelete(dispatcher.Event) (any, error) {
	return v.Session.Delete(v.loopContext(), v.Auth())
}

// eventPosition reads the event position, falling back to a "coords"
// field formatted as "lat,lng".
func eventPosition(e dispatcher.Event) (core.Position, error) {
	if e.Position != nil {
		if !geo.Valid(*e.Position) {
			return core.Position{}, geo.ErrInvalidCoordinates
		}
		return *e.Position, nil
	}
	return geo.PositionFromString(e.Field("coords"))
}

func readImage(path string) (core.LocalImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.LocalImage{}, fmt.Errorf("failed to read image: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return core.LocalImage{}, fmt.Errorf("failed to stat image: %w", err)
	}
	return core.LocalImage{
		Name:        filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
		ModTime:     info.ModTime(),
	}, nil
}
