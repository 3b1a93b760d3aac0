// Package session holds the selection and edit state of the one marker the
// user is working on, and commits its edits to the backend field by field.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/geodiary/mapcore/internal/imaging"
	"github.com/geodiary/mapcore/internal/model/core"
	"github.com/geodiary/mapcore/internal/notify"
	"github.com/geodiary/mapcore/internal/registry"
	"github.com/geodiary/mapcore/internal/telemetry"
	"github.com/google/uuid"
)

// State is the lifecycle state of the edit session
type State int

const (
	Unselected State = iota
	Selected
	Saving
	Discarding
	Deleting
	// Removed is only reported by Delete; the session itself returns to Unselected.
	Removed
)

func (s State) String() string {
	switch s {
	case Selected:
		return "selected"
	case Saving:
		return "saving"
	case Discarding:
		return "discarding"
	case Deleting:
		return "deleting"
	case Removed:
		return "removed"
	default:
		return "unselected"
	}
}

// Field names used in CommitError, in commit order.
const (
	FieldVisibility  = "visibility"
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldCategory    = "category"
	FieldImages      = "images"
)

// Backend is the subset of the REST client used to commit edits.
type Backend interface {
	UpdateVisibility(ctx context.Context, id int64, public bool) error
	UpdateTitle(ctx context.Context, id int64, title string) error
	UpdateDescription(ctx context.Context, id int64, description string) error
	UpdateCategory(ctx context.Context, id int64, category string) error
	DeleteImage(ctx context.Context, imageURL string) error
	UploadImage(ctx context.Context, id int64, img core.LocalImage) (string, error)
	DeleteMarker(ctx context.Context, id int64) error
}

// Prompter asks the user to confirm destructive or lossy actions.
type Prompter interface {
	ConfirmSave(ctx context.Context, m *core.Marker) (bool, error)
	ConfirmDelete(ctx context.Context, m *core.Marker) (bool, error)
}

// Icons draws the selection on the map. *projector.Projector implements it.
type Icons interface {
	Select(m *core.Marker)
}

// Dependencies holds all collaborators of the Session.
type Dependencies struct {
	Registry   *registry.Registry
	Backend    Backend
	Prompter   Prompter
	Icons      Icons
	Compressor imaging.Compressor // optional
	Notifier   notify.Notifier
	Recorder   telemetry.Recorder
	Log        *slog.Logger
	// Changed is called after a marker was committed locally or remotely, or
	// removed. The view uses it to refresh the anonymous cache.
	Changed func(m *core.Marker)
}

// Session is the selection and edit session of the map view.
type Session struct {
	deps Dependencies
	now  func() time.Time

	mu      sync.Mutex
	state   State
	marker  *core.Marker
	working core.EditSnapshot
}

// New creates an unselected session.
func New(deps Dependencies) *Session {
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard
	}
	if deps.Recorder == nil {
		deps.Recorder = telemetry.Nop
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Changed == nil {
		deps.Changed = func(*core.Marker) {}
	}
	return &Session{deps: deps, now: time.Now}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Marker returns the selected marker, or nil.
func (s *Session) Marker() *core.Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker
}

// Select opens m for editing. The previous selection is released without
// committing.
func (s *Session) Select(m *core.Marker) error {
	if m == nil {
		return core.ErrNotSelected
	}
	if !s.deps.Registry.Contains(m) {
		return core.ErrUnknownMarker
	}

	s.mu.Lock()
	if s.state == Saving || s.state == Deleting {
		s.mu.Unlock()
		return core.ErrBusy
	}
	s.marker = m
	s.working = m.Snapshot()
	s.state = Selected
	s.mu.Unlock()

	s.deps.Icons.Select(m)
	s.deps.Log.Debug("Marker selected", "id", m.ID())
	return nil
}

// Snapshot returns a copy of the working copy.
func (s *Session) Snapshot() (core.EditSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marker == nil {
		return core.EditSnapshot{}, core.ErrNotSelected
	}
	return cloneSnapshot(s.working), nil
}

// Apply replaces the working copy. The marker itself is untouched until Commit.
func (s *Session) Apply(snap core.EditSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	s.working = cloneSnapshot(snap)
	return nil
}

// AddImage queues a blob for upload and returns it with its id and
// modification time filled in.
func (s *Session) AddImage(img core.LocalImage) (core.LocalImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return core.LocalImage{}, err
	}
	if len(s.working.ImageURLs)+len(s.working.Images) >= core.MaxImages {
		return core.LocalImage{}, &core.ValidationError{
			Field:  FieldImages,
			Reason: fmt.Sprintf("at most %d images allowed", core.MaxImages),
		}
	}
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if img.ModTime.IsZero() {
		img.ModTime = s.now()
	}
	s.working.Images = append(s.working.Images, img)
	return img, nil
}

// RemoveImage drops a pending blob by id.
func (s *Session) RemoveImage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editableLocked() != nil {
		return false
	}
	i := slices.IndexFunc(s.working.Images, func(img core.LocalImage) bool { return img.ID == id })
	if i < 0 {
		return false
	}
	s.working.Images = slices.Delete(s.working.Images, i, i+1)
	return true
}

// RemoveImageURL marks a persisted image for deletion on the next commit.
func (s *Session) RemoveImageURL(u string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editableLocked() != nil {
		return false
	}
	i := slices.Index(s.working.ImageURLs, u)
	if i < 0 {
		return false
	}
	s.working.ImageURLs = slices.Delete(s.working.ImageURLs, i, i+1)
	return true
}

// Dirty reports whether the working copy differs from the marker.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker != nil && s.working.Differs(s.marker)
}

// Validate checks the working copy without committing.
func (s *Session) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marker == nil {
		return core.ErrNotSelected
	}
	return Validate(s.working)
}

// Commit validates the working copy and writes it to the marker. For a
// persisted marker and an authenticated viewer every changed field is sent
// to the backend in order: visibility, title, description, category, images.
// The first failure stops the commit, leaves the earlier fields committed and
// returns a *core.CommitError naming the field. On success the session closes.
func (s *Session) Commit(ctx context.Context, auth core.Auth) error {
	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := Validate(s.working); err != nil {
		s.mu.Unlock()
		s.deps.Notifier.Notify(notify.Warning, err.Error())
		return err
	}
	s.working.Title = Normalize(s.working.Title)
	s.working.Description = Normalize(s.working.Description)
	s.working.Category = Normalize(s.working.Category)
	s.state = Saving
	m := s.marker
	s.mu.Unlock()

	var err error
	if auth.Authenticated() && m.State() == core.Persisted {
		err = s.commitRemote(ctx, m)
	} else {
		s.commitLocal(m)
	}

	if err != nil {
		s.mu.Lock()
		s.state = Selected
		s.mu.Unlock()
		s.deps.Log.Error("Failed to commit marker", "id", m.ID(), "error", err)
		s.deps.Notifier.Notify(notify.Error, err.Error())
		return err
	}

	s.close()
	s.deps.Recorder.Record(ctx, telemetry.MarkerUpdated, m, nil)
	s.deps.Changed(m)
	s.deps.Notifier.Notify(notify.Success, "Marker saved")
	return nil
}

func (s *Session) commitLocal(m *core.Marker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Public = s.working.Public
	m.Title = s.working.Title
	m.Description = s.working.Description
	m.Category = s.working.Category
	m.ImageURLs = slices.Clone(s.working.ImageURLs)
	m.Images = slices.Clone(s.working.Images)
}

type step struct {
	field   string
	changed func(w core.EditSnapshot) bool
	run     func(ctx context.Context, w core.EditSnapshot) error
}

func (s *Session) commitRemote(ctx context.Context, m *core.Marker) error {
	id := m.ID()
	steps := []step{
		{
			field:   FieldVisibility,
			changed: func(w core.EditSnapshot) bool { return w.Public != m.Public },
			run: func(ctx context.Context, w core.EditSnapshot) error {
				if err := s.deps.Backend.UpdateVisibility(ctx, id, w.Public); err != nil {
					return err
				}
				s.mu.Lock()
				m.Public = w.Public
				s.mu.Unlock()
				return nil
			},
		},
		{
			field:   FieldTitle,
			changed: func(w core.EditSnapshot) bool { return w.Title != m.Title },
			run: func(ctx context.Context, w core.EditSnapshot) error {
				if err := s.deps.Backend.UpdateTitle(ctx, id, w.Title); err != nil {
					return err
				}
				s.mu.Lock()
				m.Title = w.Title
				s.mu.Unlock()
				return nil
			},
		},
		{
			field:   FieldDescription,
			changed: func(w core.EditSnapshot) bool { return w.Description != m.Description },
			run: func(ctx context.Context, w core.EditSnapshot) error {
				if err := s.deps.Backend.UpdateDescription(ctx, id, w.Description); err != nil {
					return err
				}
				s.mu.Lock()
				m.Description = w.Description
				s.mu.Unlock()
				return nil
			},
		},
		{
			field:   FieldCategory,
			changed: func(w core.EditSnapshot) bool { return w.Category != m.Category },
			run: func(ctx context.Context, w core.EditSnapshot) error {
				if err := s.deps.Backend.UpdateCategory(ctx, id, w.Category); err != nil {
					return err
				}
				s.mu.Lock()
				m.Category = w.Category
				s.mu.Unlock()
				return nil
			},
		},
		{
			field: FieldImages,
			changed: func(w core.EditSnapshot) bool {
				return len(w.Images) > 0 || !slices.Equal(w.ImageURLs, m.ImageURLs)
			},
			run: func(ctx context.Context, _ core.EditSnapshot) error {
				return s.commitImages(ctx, m)
			},
		},
	}

	for _, st := range steps {
		s.mu.Lock()
		w := cloneSnapshot(s.working)
		s.mu.Unlock()
		if !st.changed(w) {
			continue
		}
		if err := st.run(ctx, w); err != nil {
			if !errors.Is(err, core.ErrNetwork) {
				err = fmt.Errorf("%w: %v", core.ErrNetwork, err)
			}
			return &core.CommitError{Field: st.field, Err: err}
		}
	}
	return nil
}

// commitImages deletes the persisted images dropped from the working copy,
// then uploads the pending blobs one at a time. Progress is written back to
// both the marker and the working copy so a retry does not repeat it.
func (s *Session) commitImages(ctx context.Context, m *core.Marker) error {
	s.mu.Lock()
	var removed []string
	for _, u := range m.ImageURLs {
		if !slices.Contains(s.working.ImageURLs, u) {
			removed = append(removed, u)
		}
	}
	s.mu.Unlock()

	for _, u := range removed {
		if err := s.deps.Backend.DeleteImage(ctx, u); err != nil {
			return err
		}
		s.mu.Lock()
		m.ImageURLs = slices.DeleteFunc(m.ImageURLs, func(v string) bool { return v == u })
		s.mu.Unlock()
	}

	for {
		s.mu.Lock()
		if len(s.working.Images) == 0 {
			s.mu.Unlock()
			break
		}
		img := s.working.Images[0]
		s.mu.Unlock()

		upload, ok := s.prepare(img)
		if ok {
			u, err := s.deps.Backend.UploadImage(ctx, m.ID(), upload)
			if err != nil {
				return err
			}
			s.mu.Lock()
			m.ImageURLs = append(m.ImageURLs, u)
			s.working.ImageURLs = append(s.working.ImageURLs, u)
			s.mu.Unlock()
		}

		s.mu.Lock()
		s.working.Images = s.working.Images[1:]
		s.mu.Unlock()
	}

	s.mu.Lock()
	m.Images = nil
	s.mu.Unlock()
	return nil
}

// prepare compresses oversized blobs. A blob that fails to compress is
// skipped.
func (s *Session) prepare(img core.LocalImage) (core.LocalImage, bool) {
	if s.deps.Compressor == nil || !imaging.NeedsCompression(img) {
		return img, true
	}
	out, err := s.deps.Compressor.Compress(img)
	if err != nil {
		s.deps.Log.Warn("Skipping image that could not be compressed", "name", img.Name, "error", err)
		s.deps.Notifier.Notify(notify.Warning, fmt.Sprintf("Could not compress %s", img.Name))
		return img, false
	}
	return out, true
}

// Close ends the session. Unsaved changes are committed or dropped
// depending on the user's answer.
func (s *Session) Close(ctx context.Context, auth core.Auth) error {
	s.mu.Lock()
	if s.state == Unselected {
		s.mu.Unlock()
		return nil
	}
	if s.state == Saving || s.state == Deleting {
		s.mu.Unlock()
		return core.ErrBusy
	}
	m := s.marker
	dirty := s.working.Differs(m)
	s.mu.Unlock()

	if !dirty {
		s.Discard()
		return nil
	}
	save, err := s.deps.Prompter.ConfirmSave(ctx, m)
	if err != nil {
		return err
	}
	if !save {
		s.Discard()
		return nil
	}
	return s.Commit(ctx, auth)
}

// Discard drops the working copy and the selection. It never contacts the
// backend.
func (s *Session) Discard() {
	s.mu.Lock()
	if s.state == Unselected || s.state == Saving || s.state == Deleting {
		s.mu.Unlock()
		return
	}
	s.state = Discarding
	s.mu.Unlock()
	s.close()
}

// Delete removes the selected marker after confirmation. It returns Removed
// when the marker is gone and Selected when the user declined.
func (s *Session) Delete(ctx context.Context, auth core.Auth) (State, error) {
	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		s.mu.Unlock()
		return s.state, err
	}
	m := s.marker
	s.mu.Unlock()

	ok, err := s.deps.Prompter.ConfirmDelete(ctx, m)
	if err != nil {
		return Selected, err
	}
	if !ok {
		return Selected, nil
	}

	s.mu.Lock()
	s.state = Deleting
	s.mu.Unlock()

	if auth.Authenticated() && m.State() == core.Persisted {
		if err := s.deps.Backend.DeleteMarker(ctx, m.ID()); err != nil {
			s.mu.Lock()
			s.state = Selected
			s.mu.Unlock()
			if !errors.Is(err, core.ErrNetwork) {
				err = fmt.Errorf("%w: %v", core.ErrNetwork, err)
			}
			s.deps.Log.Error("Failed to delete marker", "id", m.ID(), "error", err)
			s.deps.Notifier.Notify(notify.Error, "Failed to delete marker")
			return Selected, err
		}
	}

	s.deps.Registry.Remove(m)
	s.close()
	s.deps.Recorder.Record(ctx, telemetry.MarkerDeleted, m, nil)
	s.deps.Changed(m)
	s.deps.Notifier.Notify(notify.Success, "Marker deleted")
	return Removed, nil
}

func (s *Session) close() {
	s.mu.Lock()
	s.marker = nil
	s.working = core.EditSnapshot{}
	s.state = Unselected
	s.mu.Unlock()
	s.deps.Icons.Select(nil)
}

func (s *Session) editableLocked() error {
	switch s.state {
	case Selected:
		return nil
	case Saving, Deleting, Discarding:
		return core.ErrBusy
	default:
		return core.ErrNotSelected
	}
}

func cloneSnapshot(s core.EditSnapshot) core.EditSnapshot {
	s.ImageURLs = slices.Clone(s.ImageURLs)
	s.Images = slices.Clone(s.Images)
	return s
}
