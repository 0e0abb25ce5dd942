package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"sift/internal/models"
	"sift/internal/util"
)

// Source supplies the articles of one feed.
type Source interface {
	ID() string
	Title() string
	Fetch(ctx context.Context) ([]*models.Article, error)
}

// StaticSource serves a fixed article list, or Err when set.
type StaticSource struct {
	SourceID    string
	SourceTitle string
	Articles    []*models.Article
	Err         error
}

func (s *StaticSource) ID() string    { return s.SourceID }
func (s *StaticSource) Title() string { return s.SourceTitle }

func (s *StaticSource) Fetch(ctx context.Context) ([]*models.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Articles, nil
}

// sourceDocument is the on-disk layout of a source file. A bare article list is accepted too.
type sourceDocument struct {
	ID       string            `json:"id" yaml:"id"`
	Title    string            `json:"title" yaml:"title"`
	Articles []*models.Article `json:"articles" yaml:"articles"`
}

// FileSource reads articles from a JSON or YAML file, chosen by extension. The file is re-read on
// every Fetch.
type FileSource struct {
	path  string
	id    string
	title string
}

// OpenFileSource picks up the source id and title from the file header. Both default to the file
// name without extension. A file that fails to parse still opens; its Fetch reports the error so
// one bad file fails only its own source.
func OpenFileSource(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source %s is a directory", path)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	fs := &FileSource{path: path, id: base, title: base}
	doc, err := readSourceFile(path)
	if err != nil {
		log.Warnf("Source %s will fail on fetch: %v", path, err)
		return fs, nil
	}
	if doc.ID != "" {
		fs.id = doc.ID
	}
	if doc.Title != "" {
		fs.title = doc.Title
	}
	return fs, nil
}

func (f *FileSource) ID() string    { return f.id }
func (f *FileSource) Title() string { return f.title }
func (f *FileSource) Path() string  { return f.path }

func (f *FileSource) Fetch(ctx context.Context) ([]*models.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := readSourceFile(f.path)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Article, 0, len(doc.Articles))
	for i, a := range doc.Articles {
		if a == nil {
			continue
		}
		util.CleanArticle(a)
		if a.Title == "" {
			log.Warnf("Skipping article %d in %s: empty title", i, f.path)
			continue
		}
		if a.SourceID == "" {
			a.SourceID = f.id
		}
		if a.SourceTitle == "" {
			a.SourceTitle = f.title
		}
		out = append(out, a)
	}
	return out, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func readSourceFile(path string) (*sourceDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source %s: %w", path, err)
	}
	doc := &sourceDocument{}
	if isYAML(path) {
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("failed to parse source %s: %w", path, err)
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			err = node.Decode(&doc.Articles)
		} else {
			err = node.Decode(doc)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode source %s: %w", path, err)
		}
		return doc, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &doc.Articles)
	} else {
		err = json.Unmarshal(trimmed, doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse source %s: %w", path, err)
	}
	return doc, nil
}

// LoadSources opens every path. Directories contribute their *.json, *.yaml and *.yml files in
// name order.
func LoadSources(paths ...string) ([]Source, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source path %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("failed to list source dir %s: %w", p, err)
		}
		var found []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".json", ".yaml", ".yml":
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}

	sources := make([]Source, 0, len(files))
	for _, f := range files {
		fs, err := OpenFileSource(f)
		if err != nil {
			return nil, err
		}
		sources = append(sources, fs)
	}
	log.Debugf("Loaded %d sources", len(sources))
	return sources, nil
}
