// Package pipeline contains the built-in tutorial generator. It walks a
// local source tree, groups files into chapter-sized units, and emits one
// markdown chapter per group, reporting progress through the sink it is
// given. It never touches job state directly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rbailey/tutorialforge/internal/jobs"
	"github.com/rbailey/tutorialforge/pkg/models"
)

var ErrRemoteUnsupported = errors.New("remote repository sources are not supported by the built-in generator")
var ErrSourceOutsideRoot = errors.New("local_dir is outside the allowed source root")
var ErrNoSourceFiles = errors.New("no source files matched the configured patterns")

// Generator implements jobs.Pipeline over a local directory source.
type Generator struct {
	// sourceRoot, when non-empty, confines local_dir to a subtree.
	sourceRoot string
}

// NewGenerator creates a Generator. sourceRoot may be empty.
func NewGenerator(sourceRoot string) *Generator {
	return &Generator{sourceRoot: sourceRoot}
}

type sourceFile struct {
	relPath string
	size    int64
	content string
}

// Run generates the tutorial. Progress stages: source validation to 5%,
// file scan to 20%, chapters from 30% to 90%, finalization at 95%. The
// final jump to 100% is owned by the caller's terminal write.
func (g *Generator) Run(ctx context.Context, cfg models.JobConfig, sink jobs.ProgressSink) (*models.JobResult, error) {
	if cfg.RepoURL != "" {
		return nil, ErrRemoteUnsupported
	}

	sink.Report(ctx, "Fetching source", 5, fmt.Sprintf("Reading local source: %s", cfg.LocalDir))
	root, err := g.resolveSource(cfg.LocalDir)
	if err != nil {
		return nil, err
	}

	files, err := scan(ctx, root, cfg)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoSourceFiles
	}
	sink.Report(ctx, "Scanning files", 20, fmt.Sprintf("Found %d source files", len(files)))

	groups := groupFiles(files, cfg.MaxChapters)

	projectName := cfg.ProjectName
	if projectName == "" {
		projectName = filepath.Base(root)
	}

	chapters := make([]string, 0, len(groups))
	for i, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("generation cancelled: %w", err)
		}
		// Chapters advance progress linearly through the 30-90 band.
		progress := 30 + (60*(i+1))/len(groups)
		sink.Report(ctx, "Writing chapters", progress,
			fmt.Sprintf("Writing chapter %d of %d: %s", i+1, len(groups), group.name))
		chapters = append(chapters, writeChapter(i+1, projectName, group))
	}

	sink.Report(ctx, "Finalizing", 95, "")

	return &models.JobResult{
		ProjectName: projectName,
		Chapters:    chapters,
		OutputDir:   root,
	}, nil
}

func (g *Generator) resolveSource(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve local_dir: %w", err)
	}
	if g.sourceRoot != "" {
		rootAbs, err := filepath.Abs(g.sourceRoot)
		if err != nil {
			return "", fmt.Errorf("resolve source root: %w", err)
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", ErrSourceOutsideRoot
		}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat local_dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("local_dir %s is not a directory", dir)
	}
	return abs, nil
}

func scan(ctx context.Context, root string, cfg models.JobConfig) ([]sourceFile, error) {
	var files []sourceFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if !matches(rel, name, cfg.IncludePatterns, cfg.ExcludePatterns) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if cfg.MaxFileSize > 0 && info.Size() > int64(cfg.MaxFileSize) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files = append(files, sourceFile{
			relPath: filepath.ToSlash(rel),
			size:    info.Size(),
			content: string(content),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan source tree: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].relPath < files[j].relPath })
	return files, nil
}

// matches applies include patterns (empty means everything) then exclude
// patterns, against both the relative path and the bare file name.
func matches(rel, name string, includes, excludes []string) bool {
	matchAny := func(patterns []string) bool {
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, rel); ok {
				return true
			}
			if ok, _ := filepath.Match(p, name); ok {
				return true
			}
		}
		return false
	}
	if len(includes) > 0 && !matchAny(includes) {
		return false
	}
	return !matchAny(excludes)
}

type fileGroup struct {
	name  string
	files []sourceFile
}

// groupFiles buckets files by their top-level directory (root files form
// their own group), merging the smallest groups when there are more groups
// than maxChapters.
func groupFiles(files []sourceFile, maxChapters int) []fileGroup {
	byDir := map[string][]sourceFile{}
	for _, f := range files {
		dir := "overview"
		if i := strings.IndexByte(f.relPath, '/'); i >= 0 {
			dir = f.relPath[:i]
		}
		byDir[dir] = append(byDir[dir], f)
	}

	names := make([]string, 0, len(byDir))
	for name := range byDir {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]fileGroup, 0, len(names))
	for _, name := range names {
		groups = append(groups, fileGroup{name: name, files: byDir[name]})
	}

	if maxChapters > 0 && len(groups) > maxChapters {
		rest := fileGroup{name: "miscellaneous"}
		for _, g := range groups[maxChapters-1:] {
			rest.files = append(rest.files, g.files...)
		}
		groups = append(groups[:maxChapters-1], rest)
	}
	return groups
}

func writeChapter(number int, project string, group fileGroup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Chapter %d: %s\n\n", number, group.name)
	fmt.Fprintf(&b, "This chapter covers the `%s` part of %s.\n\n", group.name, project)

	b.WriteString("| File | Size |\n|------|------|\n")
	for _, f := range group.files {
		fmt.Fprintf(&b, "| `%s` | %d bytes |\n", f.relPath, f.size)
	}
	b.WriteString("\n")

	for _, f := range group.files {
		fmt.Fprintf(&b, "## %s\n\n", f.relPath)
		fmt.Fprintf(&b, "```%s\n%s\n```\n\n", languageHint(f.relPath), strings.TrimRight(f.content, "\n"))
	}
	return b.String()
}

func languageHint(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".mjs":
		return "javascript"
	case ".ts":
		return "typescript"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	case ".sh":
		return "bash"
	case ".sql":
		return "sql"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	case ".md":
		return "markdown"
	default:
		return ""
	}
}
