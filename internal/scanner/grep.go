package scanner

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"unicode/utf8"

	"github.com/fyrsmithlabs/semcore/internal/ignore"
	"github.com/fyrsmithlabs/semcore/internal/semerr"
)

// GrepOptions configures one Grep call.
type GrepOptions struct {
	CaseSensitive bool
	MaxFileSize   int64 // 0 uses DefaultConfig().MaxFileSize
}

// GrepResult is one matching line.
type GrepResult struct {
	Path       string
	Content    string
	LineNumber int
}

// Grep is the exact-identifier fallback for queries the embedding model
// ranks poorly (symbol names, error codes, log lines): a plain regex walk
// over the same files the scanner would index, skipping whatever the
// ignore matcher already excludes. It does not consult the file-hash
// store since it never writes one: every call is a fresh walk.
func Grep(ctx context.Context, root, pattern string, ignoreMatcher *ignore.Matcher, opts GrepOptions) ([]GrepResult, error) {
	reSrc := pattern
	if !opts.CaseSensitive {
		reSrc = "(?i)" + pattern
	}
	re, err := regexp.Compile(reSrc)
	if err != nil {
		return nil, semerr.New(semerr.Config, err)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultConfig().MaxFileSize
	}

	var results []GrepResult
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := d.Name()
		if d.IsDir() {
			if path != root && (skipDirs[name] || (len(name) > 1 && name[0] == '.')) {
				return filepath.SkipDir
			}
			return nil
		}
		if len(name) > 0 && name[0] == '.' {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return semerr.New(semerr.Io, err)
		}
		rel = filepath.ToSlash(rel)
		if ignoreMatcher != nil && ignoreMatcher.Match(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxSize {
			return nil
		}

		matches, err := grepFile(path, rel, re)
		if err != nil {
			return nil // unreadable file: skip, not fatal to the walk
		}
		results = append(results, matches...)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, semerr.New(semerr.Cancelled, ctx.Err())
		}
		return nil, semerr.New(semerr.Io, err)
	}
	return results, nil
}

func grepFile(path, rel string, re *regexp.Regexp) ([]GrepResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []GrepResult
	sc := bufio.NewScanner(f)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := sc.Text()
		if !utf8.ValidString(line) {
			continue
		}
		if re.MatchString(line) {
			matches = append(matches, GrepResult{Path: rel, Content: line, LineNumber: lineNum})
		}
	}
	return matches, sc.Err()
}
