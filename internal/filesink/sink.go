// Package filesink writes publish requests to a local directory instead of
// a knowledge base.
package filesink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aistant/aistdoc/internal/kbclient"
	"github.com/aistant/aistdoc/internal/kbsync"
	"github.com/aistant/aistdoc/internal/publish"
	"go.uber.org/zap"
)

const IndexFileName = "$index.md"

var ErrUnsafeOutput = errors.New("refusing to clear output directory")

var (
	fileNameReplacer = regexp.MustCompile(`[\\~#%&*{}/:<>?|"-]`)
	segmentReplacer  = regexp.MustCompile(`[\\~#%&*{}:<>?|"]`)
)

// SanitizeFileName strips characters that are unsafe in file names.
func SanitizeFileName(title string) string {
	return strings.TrimSpace(fileNameReplacer.ReplaceAllString(title, ""))
}

// Sink lays sections out as directories keyed by their uri, so a nested
// section uri "guide/advanced" becomes <out>/guide/advanced, and articles
// as markdown files named by title inside their section's directory. Each
// section directory gets an index file listing its articles. There is no
// ordering, versioning or publish state.
type Sink struct {
	root   string
	logger *zap.Logger
}

var _ publish.Publisher = (*Sink)(nil)

// New clears outputDir and returns a sink writing into it.
func New(outputDir string, logger *zap.Logger) (*Sink, error) {
	outputDir = strings.TrimSpace(outputDir)
	if outputDir == "" {
		return nil, fmt.Errorf("%w: output directory is required", ErrUnsafeOutput)
	}
	root, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, err
	}
	if root == filepath.Dir(root) {
		return nil, fmt.Errorf("%w: %s is a filesystem root", ErrUnsafeOutput, root)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("clear output directory: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Sink{root: root, logger: logger}, nil
}

func (s *Sink) Root() string {
	return s.root
}

func (s *Sink) PublishNode(ctx context.Context, req publish.Request) (publish.Result, error) {
	if err := ctx.Err(); err != nil {
		return publish.Result{}, err
	}
	sectionDir := s.dirFor(req.SectionURI, req.SectionTitle)
	if err := os.MkdirAll(sectionDir, 0o755); err != nil {
		return publish.Result{}, err
	}

	if req.IsSection {
		dir := joinSegments(sectionDir, req.ArticleURI)
		if dir == sectionDir {
			dir = filepath.Join(sectionDir, SanitizeFileName(req.ArticleTitle))
		}
		if dir == sectionDir {
			return publish.Result{}, &kbsync.InvalidActionError{Op: "write", URI: req.ArticleURI, Reason: "no usable directory name"}
		}
		action := kbsync.ActionUnchanged
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			action = kbsync.ActionCreated
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return publish.Result{}, err
		}
		return s.result(dir, kbclient.KindSection, action), nil
	}

	name := SanitizeFileName(req.ArticleTitle)
	if name == "" {
		name = SanitizeFileName(lastSegment(req.ArticleURI))
	}
	if name == "" {
		return publish.Result{}, &kbsync.InvalidActionError{Op: "write", URI: req.ArticleURI, Reason: "no usable file name"}
	}

	entry := "## " + req.ArticleTitle + "\n" + req.Excerpt + "\n"
	if err := appendFile(filepath.Join(sectionDir, IndexFileName), []byte(entry)); err != nil {
		return publish.Result{}, err
	}

	path := filepath.Join(sectionDir, name+".md")
	action := kbsync.ActionCreated
	existing, err := os.ReadFile(path)
	switch {
	case err == nil && bytes.Equal(existing, []byte(req.Body)):
		action = kbsync.ActionUnchanged
	case err == nil:
		action = kbsync.ActionRevised
	case !errors.Is(err, os.ErrNotExist):
		return publish.Result{}, err
	}
	if action != kbsync.ActionUnchanged {
		if err := writeFileAtomic(path, []byte(req.Body), 0o644); err != nil {
			return publish.Result{}, err
		}
	}
	s.logger.Info("article written", zap.String("path", path), zap.String("action", string(action)))
	return s.result(path, kbclient.KindArticle, action), nil
}

// dirFor maps a section uri to its directory, one directory per uri
// segment. A request without a uri falls back to its section title.
func (s *Sink) dirFor(uri, title string) string {
	dir := joinSegments(s.root, uri)
	if dir == s.root {
		if name := SanitizeFileName(title); name != "" {
			dir = filepath.Join(s.root, name)
		}
	}
	return dir
}

func joinSegments(base, uri string) string {
	parts := []string{base}
	for _, segment := range strings.Split(uri, "/") {
		segment = strings.TrimSpace(segmentReplacer.ReplaceAllString(segment, ""))
		if segment == "" || segment == "." || segment == ".." {
			continue
		}
		parts = append(parts, segment)
	}
	return filepath.Join(parts...)
}

func (s *Sink) result(path string, kind kbclient.Kind, action kbsync.Action) publish.Result {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = path
	}
	return publish.Result{URI: filepath.ToSlash(rel), Kind: kind, Action: action, State: kbclient.StateDraft}
}

func lastSegment(uri string) string {
	uri = strings.Trim(uri, "/")
	if idx := strings.LastIndex(uri, "/"); idx >= 0 {
		return uri[idx+1:]
	}
	return uri
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
