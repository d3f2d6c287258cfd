package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aistant/aistdoc/internal/kbsync"
	"github.com/aistant/aistdoc/internal/publish"
)

// SectionBodyFile, when present in a directory, becomes the body of the
// section instead of an article.
const SectionBodyFile = "index.md"

const maxMarkdownLine = 4 << 20

// MarkdownDir turns a directory tree into requests. Each subdirectory is a
// section titled by its name; each .md file is an article titled by its
// first "# " heading. Entries are visited in name order, files before
// subdirectories, and a section request always precedes the requests of
// its contents.
type MarkdownDir struct {
	Root string
}

var _ Source = MarkdownDir{}

func (d MarkdownDir) Requests(ctx context.Context) ([]publish.Request, error) {
	info, err := os.Stat(d.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", d.Root)
	}
	var requests []publish.Request
	if err := d.walk(ctx, d.Root, "", "", &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

func (d MarkdownDir) walk(ctx context.Context, dir, sectionURI, sectionTitle string, out *[]publish.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files, dirs []os.DirEntry
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		switch {
		case entry.IsDir():
			dirs = append(dirs, entry)
		case strings.EqualFold(filepath.Ext(name), ".md") && !strings.EqualFold(name, SectionBodyFile):
			files = append(files, entry)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name() < dirs[j].Name() })

	for _, file := range files {
		raw, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return err
		}
		stem := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		doc, err := ParseMarkdown(string(raw))
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Join(dir, file.Name()), err)
		}
		title := doc.Title
		if title == "" {
			title = stem
		}
		*out = append(*out, publish.Request{
			SectionURI:   sectionURI,
			SectionTitle: sectionTitle,
			ArticleURI:   MakeURIFromString(stem),
			ArticleTitle: title,
			Body:         string(raw),
			Excerpt:      doc.Excerpt,
		})
	}

	for _, sub := range dirs {
		path := filepath.Join(dir, sub.Name())
		body := ""
		excerpt := ""
		if raw, err := os.ReadFile(filepath.Join(path, SectionBodyFile)); err == nil {
			body = string(raw)
			doc, err := ParseMarkdown(body)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Join(path, SectionBodyFile), err)
			}
			excerpt = doc.Excerpt
		} else if !os.IsNotExist(err) {
			return err
		}
		uri := MakeURIFromString(sub.Name())
		*out = append(*out, publish.Request{
			SectionURI:   sectionURI,
			SectionTitle: sectionTitle,
			ArticleURI:   uri,
			ArticleTitle: sub.Name(),
			Body:         body,
			Excerpt:      excerpt,
			IsSection:    true,
		})
		if err := d.walk(ctx, path, kbsync.CombineURI(sectionURI, uri), sub.Name(), out); err != nil {
			return err
		}
	}
	return nil
}

// MarkdownDocument is what ParseMarkdown extracts from a file.
type MarkdownDocument struct {
	Title   string
	Excerpt string
}

// ParseMarkdown takes the first level-one heading as the title and the
// first paragraph after it (or of the file, without a heading) as the
// excerpt. A line longer than 4 MiB is an error rather than a silently
// truncated excerpt.
func ParseMarkdown(text string) (MarkdownDocument, error) {
	var doc MarkdownDocument
	var paragraph []string
	inFence := false
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), maxMarkdownLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			if len(paragraph) > 0 {
				break
			}
			continue
		}
		if inFence {
			continue
		}
		if doc.Title == "" && len(paragraph) == 0 && strings.HasPrefix(line, "# ") {
			doc.Title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			if len(paragraph) > 0 {
				break
			}
			continue
		}
		paragraph = append(paragraph, line)
	}
	if err := scanner.Err(); err != nil {
		return MarkdownDocument{}, fmt.Errorf("parse markdown: %w", err)
	}
	doc.Excerpt = strings.Join(paragraph, " ")
	return doc, nil
}
