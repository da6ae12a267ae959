package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

// DefinitionSet is a collection of workflow definitions loaded from a single
// document.
type DefinitionSet struct {
	Version   int            `json:"version,omitempty" yaml:"version,omitempty"`
	Workflows []*Definition  `json:"workflows" yaml:"workflows"`
	Meta      map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// Validate normalizes and validates every definition in the set.
func (s *DefinitionSet) Validate() error {
	for idx, def := range s.Workflows {
		if def == nil {
			return invalidDefinition(fmt.Sprintf("workflows[%d] is empty", idx), nil)
		}
		def.Normalize()
		if err := def.Validate(); err != nil {
			return fmt.Errorf("workflows[%d]: %w", idx, err)
		}
	}
	return nil
}

// ParseDefinition decodes a single workflow definition document.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		// yaml can handle JSON too, so a single attempt is fine
		return nil, errors.Wrap(err, errors.CategoryBadInput, "parse workflow definition").
			WithTextCode(ErrCodeDefinitionParse)
	}
	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ParseDefinitionSet decodes a document holding one or more definitions
// under a workflows key.
func ParseDefinitionSet(data []byte) (*DefinitionSet, error) {
	var set DefinitionSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "parse workflow definition set").
			WithTextCode(ErrCodeDefinitionParse)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// MarshalDefinition renders a definition as JSON (useful for fixtures and
// editor exchange).
func MarshalDefinition(def *Definition) ([]byte, error) {
	return json.Marshal(def)
}
