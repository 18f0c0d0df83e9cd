package perception

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// boundsRegex matches the uiautomator bounds attribute, e.g. "[0,0][1080,2400]".
var boundsRegex = regexp.MustCompile(`^\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]$`)

// ParseHierarchy converts a uiautomator XML dump into the UI element tree.
// Nodes without geometry are kept (their children may still carry bounds).
func ParseHierarchy(xmlData []byte) ([]schemas.UIElement, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return nil, fmt.Errorf("failed to parse UI hierarchy XML: %w", err)
	}

	root := doc.SelectElement("hierarchy")
	if root == nil {
		// Some bridges omit the wrapper and return a bare node tree.
		root = doc.Root()
		if root == nil {
			return nil, fmt.Errorf("UI hierarchy XML has no root element")
		}
		if root.Tag == "node" {
			return []schemas.UIElement{parseNode(root)}, nil
		}
	}

	var out []schemas.UIElement
	for _, child := range root.SelectElements("node") {
		out = append(out, parseNode(child))
	}
	return out, nil
}

func parseNode(el *etree.Element) schemas.UIElement {
	node := schemas.UIElement{
		ResourceID: el.SelectAttrValue("resource-id", ""),
		Text:       el.SelectAttrValue("text", ""),
		Class:      el.SelectAttrValue("class", ""),
		Focused:    el.SelectAttrValue("focused", "") == "true",
		Clickable:  el.SelectAttrValue("clickable", "") == "true",
	}
	if b, ok := ParseBounds(el.SelectAttrValue("bounds", "")); ok {
		node.Bounds = b
	}
	for _, child := range el.SelectElements("node") {
		node.Children = append(node.Children, parseNode(child))
	}
	return node
}

// ParseBounds parses a uiautomator bounds string into a Bounds value.
func ParseBounds(raw string) (schemas.Bounds, bool) {
	m := boundsRegex.FindStringSubmatch(raw)
	if m == nil {
		return schemas.Bounds{}, false
	}
	x1, _ := strconv.Atoi(m[1])
	y1, _ := strconv.Atoi(m[2])
	x2, _ := strconv.Atoi(m[3])
	y2, _ := strconv.Atoi(m[4])
	return schemas.Bounds{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}, true
}
