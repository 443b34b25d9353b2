// Package ignore decides which files under the source directories are not
// source documents: office lock/temp files, editor swap files, and any
// pattern an operator lists in a .careindexignore file (gitignore syntax:
// *, ?, **, leading / anchors, trailing / directories, ! negation).
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// FileName is the per-directory ignore file read by LoadDir.
const FileName = ".careindexignore"

// DefaultPatterns are always ignored.
var DefaultPatterns = []string{
	"~$*",     // Word owner/lock file
	".~lock*", // LibreOffice lock file
	"*.tmp",
	"*.swp",
	".*", // hidden files, including staging dirs and the ignore file itself
}

// Matcher holds compiled patterns. It is safe for concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
}

// New returns a Matcher holding DefaultPatterns plus extra.
func New(extra ...string) *Matcher {
	m := &Matcher{}
	for _, p := range DefaultPatterns {
		m.Add(p)
	}
	for _, p := range extra {
		m.Add(p)
	}
	return m
}

// LoadDir returns New() extended with dir/.careindexignore when present.
func LoadDir(dir string) (*Matcher, error) {
	m := New()
	f, err := os.Open(filepath.Join(dir, FileName))
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", FileName, err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.Add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", FileName, err)
	}
	return m, nil
}

// Add compiles one pattern line. Blank lines and comments are skipped.
func (m *Matcher) Add(pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return
	}

	var r rule
	if strings.HasPrefix(pattern, "!") {
		r.negate = true
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = pattern[1:]
	} else if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") {
		r.anchored = true
	}
	if pattern == "" {
		return
	}
	r.re = regexp.MustCompile("^" + globToRegex(pattern) + "$")

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// Match reports whether rel (slash or OS separated, relative to the source
// directory) is ignored. The last matching rule wins.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}
	parts := strings.Split(rel, "/")

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for _, r := range m.rules {
		if r.matches(rel, parts, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r rule) matches(rel string, parts []string, isDir bool) bool {
	if r.anchored {
		if r.re.MatchString(rel) {
			return !r.dirOnly || isDir
		}
		// a matched parent directory ignores everything below it
		for i := 1; i < len(parts); i++ {
			if r.re.MatchString(strings.Join(parts[:i], "/")) {
				return true
			}
		}
		return false
	}

	for i, part := range parts {
		if !r.re.MatchString(part) {
			continue
		}
		last := i == len(parts)-1
		if !last || !r.dirOnly || isDir {
			return true
		}
	}
	return r.re.MatchString(rel) && (!r.dirOnly || isDir)
}

// globToRegex translates gitignore glob syntax to a regular expression body.
func globToRegex(glob string) string {
	var sb strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				if i+2 < len(glob) && glob[i+2] == '/' {
					sb.WriteString("(?:.*/)?")
					i += 2
				} else {
					sb.WriteString(".*")
					i++
				}
				continue
			}
			sb.WriteString("[^/]*")
		case '?':
			sb.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				sb.WriteString(`\[`)
				continue
			}
			sb.WriteString(glob[i : i+end+2])
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				sb.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return sb.String()
}
