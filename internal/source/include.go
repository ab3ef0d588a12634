package source

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultMaxIncludeDepth limits nested include directives.
const DefaultMaxIncludeDepth = 16

// includeDirective matches a line of the form `--%include path`. The directive
// is a Lua comment, so a file that is run without expansion still loads.
var includeDirective = regexp.MustCompile(`^\s*--%include\s+(.+?)\s*$`)

// FileReader reads the content of a source file.
type FileReader func(path string) ([]byte, error)

// origin is the file position one expanded line was taken from.
type origin struct {
	path string
	line int
}

// IncludeExpander holds the result of expanding include directives in a
// script and maps every expanded line back to where it came from.
type IncludeExpander struct {
	name     string
	text     string
	origins  []origin
	included int
}

// ExpandIncludes reads path and replaces every include directive with the
// content of the referenced file. Relative include paths are resolved
// against the directory of the including file. A nil read uses os.ReadFile.
func ExpandIncludes(path string, read FileReader) (*IncludeExpander, error) {
	if read == nil {
		read = os.ReadFile
	}
	e := &IncludeExpander{name: normalize(path)}
	var buf strings.Builder
	if err := e.expand(&buf, e.name, read, nil); err != nil {
		return nil, err
	}
	e.text = buf.String()
	return e, nil
}

func (e *IncludeExpander) expand(buf *strings.Builder, path string, read FileReader, stack []string) error {
	if len(stack) >= DefaultMaxIncludeDepth {
		return fmt.Errorf("%s: %w", path, ErrIncludeDepth)
	}
	for _, p := range stack {
		if p == path {
			return fmt.Errorf("%s: %w", path, ErrIncludeCycle)
		}
	}

	data, err := read(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	stack = append(stack, path)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if m := includeDirective.FindStringSubmatch(text); m != nil {
			target := strings.Trim(m[1], `"'`)
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(path), target)
			}
			e.included++
			if err := e.expand(buf, filepath.Clean(target), read, stack); err != nil {
				return fmt.Errorf("%s:%d: %w", path, line, err)
			}
			continue
		}
		buf.WriteString(text)
		buf.WriteByte('\n')
		e.origins = append(e.origins, origin{path: path, line: line})
	}
	return scanner.Err()
}

// Translate returns the original path and line of an expanded line.
func (e *IncludeExpander) Translate(line int) (string, int) {
	if line < 1 || line > len(e.origins) {
		return "", 0
	}
	o := e.origins[line-1]
	return o.path, o.line
}

// Name returns the path of the root script.
func (e *IncludeExpander) Name() string {
	return e.name
}

// Text returns the expanded script text.
func (e *IncludeExpander) Text() string {
	return e.text
}

// LineCount returns the number of lines in the expanded text.
func (e *IncludeExpander) LineCount() int {
	return len(e.origins)
}

// HasIncludes reports whether any include directive was expanded.
func (e *IncludeExpander) HasIncludes() bool {
	return e.included > 0
}
