package walker

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultIgnoreFile is read from the walk root when present.
const DefaultIgnoreFile = ".s3syncignore"

// ErrIgnoreFile matches the error yielded when the ignore file exists but
// cannot be read. No file is yielded after it.
var ErrIgnoreFile = errors.New("read ignore file")

type ignoreRules struct {
	matcher *gitignore.GitIgnore
}

func loadIgnoreRules(root, ignoreFile string, excludes []string) (*ignoreRules, error) {
	var lines []string
	if ignoreFile != "" {
		// the ignore file is never deployed
		lines = append(lines, "/"+ignoreFile)
	}
	lines = append(lines, excludes...)

	if ignoreFile != "" {
		fileLines, err := readIgnoreFile(filepath.Join(root, ignoreFile))
		if err != nil {
			return nil, err
		}
		lines = append(lines, fileLines...)
	}

	if len(lines) == 0 {
		return &ignoreRules{}, nil
	}
	return &ignoreRules{matcher: gitignore.CompileIgnoreLines(lines...)}, nil
}

func readIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Path: path, Err: fmt.Errorf("%w: %w", ErrIgnoreFile, err)}
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("%w: %w", ErrIgnoreFile, err)}
	}
	return lines, nil
}

func (r *ignoreRules) ignore(key string) bool {
	if r == nil || r.matcher == nil {
		return false
	}
	return r.matcher.MatchesPath(key)
}

func (r *ignoreRules) ignoreDir(key string) bool {
	return r.ignore(key) || r.ignore(key+"/")
}
