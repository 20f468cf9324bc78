package diag

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// Node is one element of a UI automator dump.
type Node struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []*Node           `json:"children,omitempty"`
}

// DumpHierarchy dumps the current window with uiautomator and returns it
// as a JSON node tree.
func (m *Monitor) DumpHierarchy() ([]byte, error) {
	cmd := fmt.Sprintf("uiautomator dump %[1]s >/dev/null && cat %[1]s", m.opts.DumpPath)
	out, err := m.run(cmd)
	if err != nil {
		return nil, fmt.Errorf("hierarchy dump: %w", err)
	}
	root, err := ParseHierarchy(out)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Format string `json:"format"`
		Root   *Node  `json:"root"`
	}{"tree", root})
}

// ParseHierarchy converts a UI automator XML document into a node tree.
func ParseHierarchy(doc []byte) (*Node, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return nil, errors.New("empty hierarchy dump")
	}
	dec := xml.NewDecoder(bytes.NewReader(doc))
	var root *Node
	var stack []*Node
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse hierarchy: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Tag: t.Name.Local}
			if len(t.Attr) > 0 {
				n.Attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					n.Attrs[a.Name.Local] = a.Value
				}
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("parse hierarchy: multiple root elements")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}
	if root == nil {
		return nil, errors.New("parse hierarchy: no elements")
	}
	return root, nil
}
