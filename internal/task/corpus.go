package task

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// maxLineSize bounds a single JSONL record.
const maxLineSize = 4 << 20

// ReadJSONL returns the string at path in every line of r. Blank lines are
// skipped; a line that is not valid JSON or lacks the path is an error.
func ReadJSONL(r io.Reader, path string) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var texts []string
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		if !gjson.Valid(raw) {
			return nil, fmt.Errorf("line %d: invalid JSON", line)
		}
		v := gjson.Get(raw, path)
		if !v.Exists() {
			return nil, fmt.Errorf("line %d: missing field %q", line, path)
		}
		texts = append(texts, v.String())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan corpus: %w", err)
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("corpus has no records")
	}
	return texts, nil
}

var defaultCorpus = []string{
	"the cat sat on the mat.",
	"the dog sat on the log.",
	"a cat and a dog sat on a mat and a log.",
	"the quick brown fox jumps over the lazy dog.",
	"small steps in random directions still go downhill on average.",
	"the mat was flat and the log was round.",
}
