package tools

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// applyUnifiedDiff applies a unified diff to content and returns the patched
// text. Context and deletion lines must match the file exactly; a mismatch
// aborts the whole patch so a half-applied file never escapes.
func applyUnifiedDiff(content, patch string) (string, error) {
	lines := strings.Split(content, "\n")
	var out []string
	src := 0
	inHunk := false

	scanner := bufio.NewScanner(strings.NewReader(patch))
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") ||
			strings.HasPrefix(line, "diff ") || strings.HasPrefix(line, "index "):
			continue
		case strings.HasPrefix(line, "@@"):
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				return "", fmt.Errorf("malformed hunk header: %q", line)
			}
			start, _ := strconv.Atoi(m[1])
			// -0,0 marks an insertion into an empty region before line 1.
			hunkStart := start - 1
			if start == 0 {
				hunkStart = 0
			}
			if hunkStart < src {
				return "", fmt.Errorf("hunks overlap at line %d", start)
			}
			if hunkStart > len(lines) {
				return "", fmt.Errorf("hunk starts past end of file at line %d", start)
			}
			out = append(out, lines[src:hunkStart]...)
			src = hunkStart
			inHunk = true
		case !inHunk:
			if strings.TrimSpace(line) == "" {
				continue
			}
			return "", fmt.Errorf("unexpected line outside hunk: %q", line)
		case strings.HasPrefix(line, " "):
			if err := expect(lines, src, line[1:]); err != nil {
				return "", err
			}
			out = append(out, lines[src])
			src++
		case strings.HasPrefix(line, "-"):
			if err := expect(lines, src, line[1:]); err != nil {
				return "", err
			}
			src++
		case strings.HasPrefix(line, "+"):
			out = append(out, line[1:])
		case line == "":
			// Some producers emit bare empty lines for empty context.
			if err := expect(lines, src, ""); err != nil {
				return "", err
			}
			out = append(out, lines[src])
			src++
		case strings.HasPrefix(line, `\`):
			// "\ No newline at end of file"
			continue
		default:
			return "", fmt.Errorf("malformed patch line: %q", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read patch: %w", err)
	}
	out = append(out, lines[src:]...)
	return strings.Join(out, "\n"), nil
}

func expect(lines []string, idx int, want string) error {
	if idx >= len(lines) {
		return fmt.Errorf("patch context extends past end of file")
	}
	if lines[idx] != want {
		return fmt.Errorf("patch context mismatch at line %d: have %q, want %q", idx+1, lines[idx], want)
	}
	return nil
}
