// Package source produces publish requests from local inputs.
package source

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aistant/aistdoc/internal/publish"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Source yields the requests of one publishing run, in order.
type Source interface {
	Requests(ctx context.Context) ([]publish.Request, error)
}

var uriReplacer = regexp.MustCompile(`[<>.,\s]`)

// MakeURIFromString lowercases name and replaces characters that do not
// belong in a uri segment with dashes.
func MakeURIFromString(name string) string {
	return uriReplacer.ReplaceAllString(strings.ToLower(name), "-")
}

func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}
