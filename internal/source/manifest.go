package source

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aistant/aistdoc/internal/publish"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed manifest.schema.json
var manifestSchemaJSON []byte

var (
	manifestSchemaOnce sync.Once
	manifestSchema     *jsonschema.Schema
	manifestSchemaErr  error
)

type manifestDocument struct {
	Requests []manifestEntry `json:"requests"`
}

type manifestEntry struct {
	publish.Request
	BodyFile string `json:"bodyFile,omitempty"`
}

// Manifest reads requests from a JSON document:
//
//	{"requests": [{"sectionUri": "guide", "articleUri": "intro", "bodyFile": "intro.md"}]}
//
// bodyFile paths are relative to the manifest.
type Manifest struct {
	Path string
}

var _ Source = Manifest{}

func (m Manifest) Requests(ctx context.Context) ([]publish.Request, error) {
	raw, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(raw, filepath.Dir(m.Path))
}

// ParseManifest validates and decodes a manifest, resolving bodyFile
// entries against baseDir.
func ParseManifest(raw []byte, baseDir string) ([]publish.Request, error) {
	manifestSchemaOnce.Do(func() {
		manifestSchema, manifestSchemaErr = compileSchema("manifest.schema.json", manifestSchemaJSON)
	})
	if manifestSchemaErr != nil {
		return nil, manifestSchemaErr
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := manifestSchema.Validate(inst); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	var doc manifestDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	requests := make([]publish.Request, 0, len(doc.Requests))
	for i, entry := range doc.Requests {
		req := entry.Request
		if entry.BodyFile != "" {
			path := entry.BodyFile
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			body, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("request %d body: %w", i+1, err)
			}
			req.Body = string(body)
		}
		if req.ArticleTitle == "" {
			req.ArticleTitle = req.ArticleURI
		}
		requests = append(requests, req)
	}
	return requests, nil
}
