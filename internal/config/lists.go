package config

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// StringList accepts either a single YAML scalar or a sequence of scalars.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.ShortTag() == "!!null" {
			*l = nil
			return nil
		}
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return errors.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}

// IntList accepts either a single YAML integer or a sequence of integers.
type IntList []int

func (l *IntList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.ShortTag() == "!!null" {
			*l = nil
			return nil
		}
		var n int
		if err := node.Decode(&n); err != nil {
			return err
		}
		*l = IntList{n}
		return nil
	case yaml.SequenceNode:
		var items []int
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return errors.Errorf("line %d: expected an integer or a list of integers", node.Line)
	}
}
