package template

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// StdinName names the template read from standard input.
const StdinName = "<stdin>"

var (
	ErrTemplateSource = errors.New("template: source error")

	ErrNotFound    = fmt.Errorf("%w: not found", ErrTemplateSource)
	ErrUnreadable  = fmt.Errorf("%w: unreadable", ErrTemplateSource)
	ErrNoTemplates = fmt.Errorf("%w: no templates", ErrTemplateSource)
)

// SourceError reports which template could not be loaded.
type SourceError struct {
	Name string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("template %s: %v", e.Name, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Source resolves into the ordered template sequence for one run. Exactly one
// source is active per invocation.
type Source interface {
	Load() ([]Template, error)
}

// StdinSource reads one document from Reader.
type StdinSource struct {
	Reader io.Reader
}

func (s StdinSource) Load() ([]Template, error) {
	if s.Reader == nil {
		return nil, &SourceError{Name: StdinName, Err: ErrNoTemplates}
	}
	data, err := io.ReadAll(s.Reader)
	if err != nil {
		return nil, &SourceError{Name: StdinName, Err: fmt.Errorf("%w: %w", ErrUnreadable, err)}
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, &SourceError{Name: StdinName, Err: fmt.Errorf("%w: empty input", ErrNoTemplates)}
	}
	return []Template{{Name: StdinName, Text: string(data)}}, nil
}

// FileListSource reads Paths in order. A relative path missing from the
// working directory is looked up in each of SearchDirs.
type FileListSource struct {
	Paths      []string
	SearchDirs []string
}

func (s FileListSource) Load() ([]Template, error) {
	if len(s.Paths) == 0 {
		return nil, &SourceError{Name: "files", Err: ErrNoTemplates}
	}
	out := make([]Template, 0, len(s.Paths))
	for _, p := range s.Paths {
		resolved, err := s.resolve(p)
		if err != nil {
			return nil, &SourceError{Name: p, Err: err}
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, &SourceError{Name: p, Err: fmt.Errorf("%w: %w", ErrUnreadable, err)}
		}
		out = append(out, Template{Name: p, Text: string(data)})
	}
	return out, nil
}

func (s FileListSource) resolve(p string) (string, error) {
	_, err := os.Stat(p)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	for _, dir := range s.SearchDirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		candidate := filepath.Join(dir, p)
		if _, serr := os.Stat(candidate); serr == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %w", ErrNotFound, err)
}
