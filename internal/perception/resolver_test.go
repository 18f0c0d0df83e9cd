package perception

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// testSnapshot builds a small two-pane screen: a header with a duplicated
// send button, and a list with two identically labeled rows.
func testSnapshot() *schemas.ScreenSnapshot {
	return &schemas.ScreenSnapshot{
		Width:  1080,
		Height: 2400,
		Elements: []schemas.UIElement{
			{
				ResourceID: "header",
				Bounds:     schemas.Bounds{X: 0, Y: 0, Width: 1080, Height: 200},
				Children: []schemas.UIElement{
					{ResourceID: "btn_send", Text: "Send", Bounds: schemas.Bounds{X: 0, Y: 0, Width: 200, Height: 200}},
					{ResourceID: "btn_send", Text: "Send all", Bounds: schemas.Bounds{X: 880, Y: 0, Width: 200, Height: 200}},
				},
			},
			{
				ResourceID: "list",
				Bounds:     schemas.Bounds{X: 0, Y: 200, Width: 1080, Height: 2200},
				Children: []schemas.UIElement{
					{Text: "Item", Bounds: schemas.Bounds{X: 0, Y: 200, Width: 1080, Height: 150}},
					{Text: "Item", Bounds: schemas.Bounds{X: 0, Y: 350, Width: 1080, Height: 150}},
				},
			},
		},
	}
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	return NewResolver(zaptest.NewLogger(t))
}

func TestResolver_ResourceIDWinsOverCoordinates(t *testing.T) {
	r := newTestResolver(t)
	snap := testSnapshot()

	// Coordinates point at the list, but the resource id must win.
	target := schemas.Target{
		ResourceID:  "btn_send",
		Coordinates: &schemas.Bounds{X: 0, Y: 300, Width: 100, Height: 100},
	}

	el, err := r.Resolve(target, snap)
	require.NoError(t, err)
	assert.Equal(t, MatchResourceID, el.Kind)
	assert.Equal(t, "Send", el.Element.Text)
}

func TestResolver_ResourceIDIndexSelectsSecondOccurrence(t *testing.T) {
	r := newTestResolver(t)

	el, err := r.Resolve(schemas.Target{ResourceID: "btn_send", ResourceIDIndex: 1}, testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, "Send all", el.Element.Text, "index 1 must select the second occurrence, not the first")
}

func TestResolver_ResourceIDIndexOutOfRangeIsAmbiguous(t *testing.T) {
	r := newTestResolver(t)

	// No other locators: the ambiguity must surface rather than a guess.
	_, err := r.Resolve(schemas.Target{ResourceID: "btn_send", ResourceIDIndex: 5}, testSnapshot())
	assert.ErrorIs(t, err, ErrAmbiguousLocator)
}

func TestResolver_CoordinatesWinOverText(t *testing.T) {
	r := newTestResolver(t)

	// Coordinates land on the first list row; text "Send all" matches a
	// different element. Coordinates sit higher in the fallback order.
	target := schemas.Target{
		Coordinates: &schemas.Bounds{X: 400, Y: 220, Width: 100, Height: 100},
		Text:        "Send all",
	}

	el, err := r.Resolve(target, testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, MatchCoordinates, el.Kind)
	assert.Equal(t, "Item", el.Element.Text)
}

func TestResolver_TextIndexDisambiguates(t *testing.T) {
	r := newTestResolver(t)

	el, err := r.Resolve(schemas.Target{Text: "Item", TextIndex: 1}, testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, MatchText, el.Kind)
	assert.Equal(t, 350, el.Element.Bounds.Y)
}

func TestResolver_FallsThroughIDToText(t *testing.T) {
	r := newTestResolver(t)

	// The id is absent from the snapshot; the text locator must rescue it.
	el, err := r.Resolve(schemas.Target{ResourceID: "btn_missing", Text: "Send all"}, testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, MatchText, el.Kind)
}

func TestResolver_NothingMatches(t *testing.T) {
	r := newTestResolver(t)

	_, err := r.Resolve(schemas.Target{ResourceID: "ghost", Text: "ghost"}, testSnapshot())
	assert.ErrorIs(t, err, ErrElementNotFound)

	_, err = r.Resolve(schemas.Target{}, testSnapshot())
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestResolver_CoordinatesPreferDeepestContainingElement(t *testing.T) {
	r := newTestResolver(t)

	// The point is inside both the header container and the first button.
	// The smaller (deeper) element must win.
	el, err := r.Resolve(schemas.Target{Coordinates: &schemas.Bounds{X: 50, Y: 50, Width: 10, Height: 10}}, testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, "btn_send", el.Element.ResourceID)
	assert.Equal(t, "Send", el.Element.Text)
}
