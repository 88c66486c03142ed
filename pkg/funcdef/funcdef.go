// Package funcdef reads function definitions from YAML and builds their
// instruction graphs.
//
//	functions:
//	  - name: choose
//	    params: [i32, i64]
//	    returns: [i64, i32, i32]
//	    body:
//	      if:
//	        cond: p0
//	        then: {return: [p1, 1, 2]}
//	        else: {return: [-1, p0, 3]}
//
// An expression is a parameter reference pN or a numeric literal.
package funcdef

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/raymyers/growstack/pkg/linkage"
	"github.com/raymyers/growstack/pkg/machine"
)

// ErrInvalidDefinition is wrapped by every error about a definition's content
var ErrInvalidDefinition = errors.New("invalid function definition")

// File is a YAML document of function definitions
type File struct {
	Functions []Function `yaml:"functions"`
}

// Function is one function definition
type Function struct {
	Name    string   `yaml:"name"`
	Params  []string `yaml:"params"`
	Returns []string `yaml:"returns"`
	Body    Body     `yaml:"body"`
}

// Body is either a return or a two-way conditional
type Body struct {
	Return []string `yaml:"return,omitempty"`
	If     *IfBody  `yaml:"if,omitempty"`
}

// IfBody branches on a non-zero 32-bit condition
type IfBody struct {
	Cond string `yaml:"cond"`
	Then Body   `yaml:"then"`
	Else Body   `yaml:"else"`
}

// Load reads and parses a definition file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a definition document and checks that function names are
// present and unique.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	seen := make(map[string]bool)
	for i, fn := range f.Functions {
		if fn.Name == "" {
			return nil, fmt.Errorf("%w: function %d has no name", ErrInvalidDefinition, i)
		}
		if seen[fn.Name] {
			return nil, fmt.Errorf("%w: function %s is defined twice", ErrInvalidDefinition, fn.Name)
		}
		seen[fn.Name] = true
	}
	return &f, nil
}

// Signature parses the parameter and return types of fn
func (fn *Function) Signature() (linkage.Signature, error) {
	params, err := parseTypes(fn.Params)
	if err != nil {
		return linkage.Signature{}, fmt.Errorf("%w: %s params: %v", ErrInvalidDefinition, fn.Name, err)
	}
	returns, err := parseTypes(fn.Returns)
	if err != nil {
		return linkage.Signature{}, fmt.Errorf("%w: %s returns: %v", ErrInvalidDefinition, fn.Name, err)
	}
	return linkage.Signature{Params: params, Returns: returns}, nil
}

func parseTypes(names []string) ([]machine.Type, error) {
	types := make([]machine.Type, 0, len(names))
	for _, n := range names {
		t, err := machine.ParseType(n)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}
