package perception

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// MatchKind names the locator that ultimately resolved an element.
type MatchKind string

const (
	MatchResourceID  MatchKind = "resource_id"
	MatchCoordinates MatchKind = "coordinates"
	MatchText        MatchKind = "text"
)

// ResolvedElement is a concrete element from a snapshot plus the point a
// device action should address.
type ResolvedElement struct {
	Element *schemas.UIElement
	Kind    MatchKind
	Point   schemas.Point
}

// Resolver maps a target description onto a concrete element of a perception
// snapshot using ordered fallback: resource id first, then coordinates, then
// text. It never invents a match that is absent from the snapshot.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger.Named("resolver")}
}

// Resolve tries each locator of the target in strict priority order, falling
// through only on absence or unresolved ambiguity at the current level. The
// last failure is reported when every level is exhausted, so an out-of-range
// resource_id_index surfaces as Ambiguous unless a lower level resolves.
func (r *Resolver) Resolve(target schemas.Target, snap *schemas.ScreenSnapshot) (*ResolvedElement, error) {
	if target.Empty() {
		return nil, notFound(target, "no locators provided")
	}

	var lastErr error

	if target.ResourceID != "" {
		if el, err := r.byResourceID(target, snap); err == nil {
			return el, nil
		} else {
			r.logger.Debug("resource_id resolution failed, falling back",
				zap.String("resource_id", target.ResourceID), zap.Error(err))
			lastErr = err
		}
	}

	if target.Coordinates != nil {
		if el := r.byCoordinates(*target.Coordinates, snap); el != nil {
			return el, nil
		}
		lastErr = notFound(target, "no element at coordinates")
	}

	if target.Text != "" {
		if el, err := r.byText(target, snap); err == nil {
			return el, nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, notFound(target, "all locators exhausted")
}

func (r *Resolver) byResourceID(target schemas.Target, snap *schemas.ScreenSnapshot) (*ResolvedElement, error) {
	matches := collect(snap, func(el *schemas.UIElement) bool {
		return el.ResourceID == target.ResourceID
	})
	if len(matches) == 0 {
		return nil, notFound(target, "resource_id absent from snapshot")
	}

	idx := target.ResourceIDIndex
	if idx >= len(matches) {
		// The id exists but the requested occurrence does not. This is an
		// ambiguity, not a miss: picking another occurrence would be a guess.
		return nil, ambiguous(target, "resource_id_index out of range")
	}
	el := matches[idx]
	return &ResolvedElement{Element: el, Kind: MatchResourceID, Point: el.Bounds.Center()}, nil
}

// byCoordinates probes the snapshot geometrically. The smallest element
// containing the bounds' center wins; failing containment, the element whose
// center is nearest. Coordinates are the most permissive locator, so any
// element in the snapshot qualifies.
func (r *Resolver) byCoordinates(bounds schemas.Bounds, snap *schemas.ScreenSnapshot) *ResolvedElement {
	center := bounds.Center()

	var best *schemas.UIElement
	bestArea := int(^uint(0) >> 1)
	snap.Walk(func(el *schemas.UIElement) bool {
		if el.Bounds.Contains(center) {
			area := el.Bounds.Width * el.Bounds.Height
			if area > 0 && area < bestArea {
				best, bestArea = el, area
			}
		}
		return true
	})
	if best != nil {
		return &ResolvedElement{Element: best, Kind: MatchCoordinates, Point: best.Bounds.Center()}
	}

	var nearest *schemas.UIElement
	nearestDist := -1
	snap.Walk(func(el *schemas.UIElement) bool {
		c := el.Bounds.Center()
		dx, dy := c.X-center.X, c.Y-center.Y
		d := dx*dx + dy*dy
		if nearestDist < 0 || d < nearestDist {
			nearest, nearestDist = el, d
		}
		return true
	})
	if nearest == nil {
		return nil
	}
	return &ResolvedElement{Element: nearest, Kind: MatchCoordinates, Point: nearest.Bounds.Center()}
}

func (r *Resolver) byText(target schemas.Target, snap *schemas.ScreenSnapshot) (*ResolvedElement, error) {
	matches := collect(snap, func(el *schemas.UIElement) bool {
		return el.Text == target.Text
	})
	if len(matches) == 0 {
		return nil, notFound(target, "text absent from snapshot")
	}

	idx := target.TextIndex
	if idx >= len(matches) {
		return nil, ambiguous(target, "text_index out of range")
	}
	el := matches[idx]
	return &ResolvedElement{Element: el, Kind: MatchText, Point: el.Bounds.Center()}, nil
}

// collect gathers matching elements in document order, which defines the
// meaning of the index disambiguators.
func collect(snap *schemas.ScreenSnapshot, pred func(*schemas.UIElement) bool) []*schemas.UIElement {
	var out []*schemas.UIElement
	snap.Walk(func(el *schemas.UIElement) bool {
		if pred(el) {
			out = append(out, el)
		}
		return true
	})
	return out
}
