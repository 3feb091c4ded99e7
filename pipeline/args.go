package pipeline

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Kwargs are keyword arguments handed to a pipeline driver.
type Kwargs map[string]interface{}

// String returns the value of key rendered as a string, and whether it was set.
func (k Kwargs) String(key string) (string, bool) {
	v, ok := k[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// ParseKwargs decodes a string-encoded mapping. Both JSON and Python literal
// style ('single quotes', True/False/None) are accepted since both are valid
// YAML flow mappings. An empty blob yields an empty map.
func ParseKwargs(blob string) (Kwargs, error) {
	kwargs := Kwargs{}
	if strings.TrimSpace(blob) == "" {
		return kwargs, nil
	}
	if err := decodeLiteral(blob, &kwargs); err != nil {
		return nil, ArgumentError(err, "malformed kwargs %q", blob)
	}
	if kwargs == nil {
		return nil, ArgumentError(errors.New("not a mapping"), "malformed kwargs %q", blob)
	}
	return kwargs, nil
}

// ParseTags decodes a string-encoded list of {"Key": ..., "Value": ...} pairs.
func ParseTags(blob string) ([]Tag, error) {
	if strings.TrimSpace(blob) == "" {
		return nil, nil
	}
	var tags []Tag
	if err := decodeLiteral(blob, &tags); err != nil {
		return nil, ArgumentError(err, "malformed tags %q", blob)
	}
	for i, tag := range tags {
		if tag.Key == "" {
			return nil, ArgumentError(errors.Newf("tag %d has no Key", i), "malformed tags %q", blob)
		}
	}
	return tags, nil
}

// decodeLiteral decodes a YAML flow document into out. An unquoted None is
// read as null.
func decodeLiteral(blob string, out interface{}) error {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(blob), &doc); err != nil {
		return err
	}
	noneToNull(&doc)
	return doc.Decode(out)
}

func noneToNull(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode && n.Style == 0 && n.Value == "None" {
		n.Tag = ""
		n.Value = "null"
	}
	for _, child := range n.Content {
		noneToNull(child)
	}
}
