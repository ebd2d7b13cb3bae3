package filter

import (
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/sln-repo/strongline/internal/errs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonNode struct {
	Kind     string     `json:"kind"`
	FileType string     `json:"file_type,omitempty"`
	URI      string     `json:"uri,omitempty"`
	Field    string     `json:"field,omitempty"`
	Value    string     `json:"value,omitempty"`
	Children []jsonNode `json:"children,omitempty"`
}

// BuildFromJSON decodes a filter tree from a streamed JSON document.
// An incomplete or malformed document returns a nil tree and ENOMEM, the
// caller's cue to surface 500 rather than falling back to All the way
// the user-filter parser does.
func BuildFromJSON(data []byte) (*Filter, error) {
	var n jsonNode
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, errs.Wrap(errs.ENOMEM, "malformed filter document: %v", err)
	}
	return n.compile()
}

func (n jsonNode) compile() (*Filter, error) {
	switch strings.ToLower(n.Kind) {
	case "", "all":
		return All(), nil
	case "metafile":
		return MetaFile(), nil
	case "filetype":
		return FileType(n.FileType), nil
	case "linksto":
		return LinksTo(n.URI), nil
	case "linkedfrom":
		return LinkedFrom(n.URI), nil
	case "badge":
		return Badge(n.Field, n.Value), nil
	case "and", "or":
		children := make([]*Filter, 0, len(n.Children))
		for _, c := range n.Children {
			cf, err := c.compile()
			if err != nil {
				return nil, err
			}
			children = append(children, cf)
		}
		if strings.ToLower(n.Kind) == "and" {
			return And(children...), nil
		}
		return Or(children...), nil
	case "not":
		if len(n.Children) != 1 {
			return nil, errs.Wrap(errs.ENOMEM, "not requires exactly one child")
		}
		child, err := n.Children[0].compile()
		if err != nil {
			return nil, err
		}
		return Not(child), nil
	default:
		return nil, errs.Wrap(errs.ENOMEM, "unknown filter kind %q", n.Kind)
	}
}
