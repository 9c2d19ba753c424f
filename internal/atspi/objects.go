package atspi

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"atbridge/internal/a11y"
)

// objectRef is the AT-SPI (so) reference: owning bus name and object path.
type objectRef struct {
	Name string
	Path dbus.ObjectPath
}

func (r objectRef) toRef() a11y.Ref {
	return a11y.Ref{Bus: r.Name, Path: string(r.Path)}
}

func (r objectRef) isNull() bool {
	return r.Name == "" || r.Path == "" || r.Path == NullPath
}

type actionInfo struct {
	Name        string
	Description string
	KeyBinding  string
}

// D-Bus error names that mean the object or interface is not there.
var (
	notFoundErrors = map[string]bool{
		"org.freedesktop.DBus.Error.UnknownObject":  true,
		"org.freedesktop.DBus.Error.ServiceUnknown": true,
		"org.freedesktop.DBus.Error.NameHasNoOwner": true,
	}
	noInterfaceErrors = map[string]bool{
		"org.freedesktop.DBus.Error.UnknownMethod":    true,
		"org.freedesktop.DBus.Error.UnknownInterface": true,
		"org.freedesktop.DBus.Error.UnknownProperty":  true,
		"org.freedesktop.DBus.Error.NotSupported":     true,
	}
)

// mapError converts D-Bus errors into the a11y error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var name string
	var de dbus.Error
	var dep *dbus.Error
	switch {
	case errors.As(err, &de):
		name = de.Name
	case errors.As(err, &dep):
		name = dep.Name
	default:
		return err
	}
	switch {
	case notFoundErrors[name]:
		return fmt.Errorf("%w: %v", a11y.ErrNotFound, err)
	case noInterfaceErrors[name]:
		return fmt.Errorf("%w: %v", a11y.ErrNoInterface, err)
	}
	return err
}

func (b *Backend) object(ref a11y.Ref) (dbus.BusObject, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}
	if ref.IsZero() || ref.Path == NullPath {
		return nil, a11y.ErrNotFound
	}
	return conn.Object(ref.Bus, dbus.ObjectPath(ref.Path)), nil
}

func (b *Backend) call(ctx context.Context, ref a11y.Ref, method string, out any, args ...any) error {
	obj, err := b.object(ref)
	if err != nil {
		return err
	}
	call := obj.CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		return mapError(call.Err)
	}
	if out == nil {
		return nil
	}
	return call.Store(out)
}

func (b *Backend) property(ctx context.Context, ref a11y.Ref, iface, prop string, out any) error {
	var v dbus.Variant
	if err := b.call(ctx, ref, PropertiesInterface+".Get", &v, iface, prop); err != nil {
		return err
	}
	return v.Store(out)
}

// DesktopCount implements a11y.Service. AT-SPI exposes one desktop.
func (b *Backend) DesktopCount(ctx context.Context) (int, error) {
	if _, err := b.connection(); err != nil {
		return 0, err
	}
	return 1, nil
}

// Desktop implements a11y.Service.
func (b *Backend) Desktop(ctx context.Context, index int) (a11y.Ref, error) {
	if _, err := b.connection(); err != nil {
		return a11y.Ref{}, err
	}
	if index != 0 {
		return a11y.Ref{}, fmt.Errorf("desktop %d: %w", index, a11y.ErrNotFound)
	}
	return a11y.Ref{Bus: RegistryService, Path: RootPath}, nil
}

// Role implements a11y.Service.
func (b *Backend) Role(ctx context.Context, ref a11y.Ref) (a11y.Role, string, error) {
	var num uint32
	if err := b.call(ctx, ref, AccessibleInterface+".GetRole", &num); err != nil {
		return a11y.RoleUnknown, "", err
	}
	var name string
	if err := b.call(ctx, ref, AccessibleInterface+".GetRoleName", &name); err != nil {
		name = ""
	}
	return roleFromAtspi(num, name), name, nil
}

// Name implements a11y.Service.
func (b *Backend) Name(ctx context.Context, ref a11y.Ref) (string, error) {
	var name string
	err := b.property(ctx, ref, AccessibleInterface, "Name", &name)
	return name, err
}

// Description implements a11y.Service.
func (b *Backend) Description(ctx context.Context, ref a11y.Ref) (string, error) {
	var desc string
	err := b.property(ctx, ref, AccessibleInterface, "Description", &desc)
	return desc, err
}

// States implements a11y.Service.
func (b *Backend) States(ctx context.Context, ref a11y.Ref) (a11y.StateSet, error) {
	var words []uint32
	if err := b.call(ctx, ref, AccessibleInterface+".GetState", &words); err != nil {
		return 0, err
	}
	return a11y.StateSetFromWords(words), nil
}

// Children implements a11y.Service. Objects without GetChildren are walked
// by index.
func (b *Backend) Children(ctx context.Context, ref a11y.Ref) ([]a11y.Ref, error) {
	var refs []objectRef
	err := b.call(ctx, ref, AccessibleInterface+".GetChildren", &refs)
	if errors.Is(err, a11y.ErrNoInterface) {
		refs, err = b.childrenByIndex(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	out := make([]a11y.Ref, 0, len(refs))
	for _, r := range refs {
		if !r.isNull() {
			out = append(out, r.toRef())
		}
	}
	return out, nil
}

func (b *Backend) childrenByIndex(ctx context.Context, ref a11y.Ref) ([]objectRef, error) {
	var count int32
	if err := b.property(ctx, ref, AccessibleInterface, "ChildCount", &count); err != nil {
		return nil, err
	}
	refs := make([]objectRef, 0, count)
	for i := int32(0); i < count; i++ {
		var r objectRef
		if err := b.call(ctx, ref, AccessibleInterface+".GetChildAtIndex", &r, i); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, nil
}

// ProcessID implements a11y.Service using the bus daemon's credentials for
// the owning connection.
func (b *Backend) ProcessID(ctx context.Context, ref a11y.Ref) (int, error) {
	conn, err := b.connection()
	if err != nil {
		return 0, err
	}
	var pid uint32
	err = conn.BusObject().
		CallWithContext(ctx, "org.freedesktop.DBus.GetConnectionUnixProcessID", 0, ref.Bus).
		Store(&pid)
	if err != nil {
		return 0, mapError(err)
	}
	return int(pid), nil
}

// Text implements a11y.Service.
func (b *Backend) Text(ctx context.Context, ref a11y.Ref) (string, error) {
	var text string
	if err := b.call(ctx, ref, TextInterface+".GetText", &text, int32(0), int32(-1)); err != nil {
		return "", err
	}
	return text, nil
}

// Actions implements a11y.Service.
func (b *Backend) Actions(ctx context.Context, ref a11y.Ref) ([]string, error) {
	var infos []actionInfo
	if err := b.call(ctx, ref, ActionInterface+".GetActions", &infos); err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, a := range infos {
		names[i] = a.Name
	}
	return names, nil
}

// DoAction implements a11y.Service.
func (b *Backend) DoAction(ctx context.Context, ref a11y.Ref, index int) (bool, error) {
	var ok bool
	if err := b.call(ctx, ref, ActionInterface+".DoAction", &ok, int32(index)); err != nil {
		return false, err
	}
	return ok, nil
}

// AccessibleAtPoint implements a11y.Service. Showing top-level windows are
// tried in application order, active windows first; the first containing
// the point is descended with GetAccessibleAtPoint until no deeper child
// is returned.
func (b *Backend) AccessibleAtPoint(ctx context.Context, x, y int) (a11y.Ref, error) {
	windows, err := b.topLevelWindows(ctx)
	if err != nil {
		return a11y.Ref{}, err
	}
	for _, w := range windows {
		var inside bool
		if err := b.call(ctx, w, ComponentInterface+".Contains", &inside, int32(x), int32(y), screenCoords); err != nil || !inside {
			continue
		}
		return b.descend(ctx, w, x, y), nil
	}
	return a11y.Ref{}, fmt.Errorf("nothing at (%d, %d): %w", x, y, a11y.ErrNotFound)
}

// maxHitDepth bounds descent through nested components.
const maxHitDepth = 64

func (b *Backend) descend(ctx context.Context, from a11y.Ref, x, y int) a11y.Ref {
	cur := from
	for i := 0; i < maxHitDepth; i++ {
		var next objectRef
		if err := b.call(ctx, cur, ComponentInterface+".GetAccessibleAtPoint", &next, int32(x), int32(y), screenCoords); err != nil {
			break
		}
		if next.isNull() || next.toRef() == cur {
			break
		}
		cur = next.toRef()
	}
	return cur
}

func (b *Backend) topLevelWindows(ctx context.Context) ([]a11y.Ref, error) {
	desktop, err := b.Desktop(ctx, 0)
	if err != nil {
		return nil, err
	}
	apps, err := b.Children(ctx, desktop)
	if err != nil {
		return nil, err
	}

	var active, showing []a11y.Ref
	for _, app := range apps {
		wins, err := b.Children(ctx, app)
		if err != nil {
			continue
		}
		for _, w := range wins {
			states, err := b.States(ctx, w)
			if err != nil || !states.Has(a11y.StateShowing) || states.Has(a11y.StateIconified) {
				continue
			}
			if states.Has(a11y.StateActive) {
				active = append(active, w)
			} else {
				showing = append(showing, w)
			}
		}
	}
	return append(active, showing...), nil
}

// Focused implements a11y.Service. The object from the latest focus event
// is returned while it still reports the focused state; otherwise active
// windows are searched breadth first.
func (b *Backend) Focused(ctx context.Context) (a11y.Ref, error) {
	b.focusMu.Lock()
	last := b.lastFocus
	b.focusMu.Unlock()

	if !last.IsZero() {
		if states, err := b.States(ctx, last); err == nil && states.Has(a11y.StateFocused) {
			return last, nil
		}
	}
	ref, err := b.searchFocus(ctx)
	if err != nil {
		return a11y.Ref{}, err
	}
	b.setFocus(ref)
	return ref, nil
}

func (b *Backend) searchFocus(ctx context.Context) (a11y.Ref, error) {
	windows, err := b.topLevelWindows(ctx)
	if err != nil {
		return a11y.Ref{}, err
	}

	queue := append([]a11y.Ref(nil), windows...)
	visited := 0
	for len(queue) > 0 && visited < b.cfg.FocusSearchLimit {
		if err := ctx.Err(); err != nil {
			return a11y.Ref{}, err
		}
		cur := queue[0]
		queue = queue[1:]
		visited++

		states, err := b.States(ctx, cur)
		if err != nil {
			continue
		}
		if states.Has(a11y.StateFocused) {
			return cur, nil
		}
		if !states.Has(a11y.StateShowing) || states.Has(a11y.StateManagesDescendants) {
			continue
		}
		children, err := b.Children(ctx, cur)
		if err != nil {
			continue
		}
		queue = append(queue, children...)
	}
	return a11y.Ref{}, fmt.Errorf("no focused object: %w", a11y.ErrNotFound)
}

func (b *Backend) setFocus(ref a11y.Ref) {
	b.focusMu.Lock()
	b.lastFocus = ref
	b.focusMu.Unlock()
}
