package mapview

import (
	"context"
	"sync"

	"github.com/geodiary/mapcore/internal/model/core"
)

// StaticPrompter gives the same answer to every question of a kind.
type StaticPrompter struct {
	Migrate bool
	Save    bool
	Delete  bool
}

func (p StaticPrompter) ConfirmMigration(context.Context, int) (bool, error) {
	return p.Migrate, nil
}

func (p StaticPrompter) ConfirmSave(context.Context, *core.Marker) (bool, error) {
	return p.Save, nil
}

func (p StaticPrompter) ConfirmDelete(context.Context, *core.Marker) (bool, error) {
	return p.Delete, nil
}

// FixedLocator reports the last position it was given.
type FixedLocator struct {
	mu  sync.Mutex
	pos core.Position
	ok  bool
}

// Set records the device position.
func (l *FixedLocator) Set(pos core.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pos, l.ok = pos, true
}

// Clear forgets the device position.
func (l *FixedLocator) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ok = false
}

// CurrentPosition implements creation.Locator.
func (l *FixedLocator) CurrentPosition(context.Context) (core.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pos, l.ok
}
