package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
)

// TimestampLayout is the format of the "made" header line
const TimestampLayout = "01/02/2006-15:04:05.00"

// Entry is one packed file
type Entry struct {
	SourcePath  string // path handed to the packer
	DestPath    string // path inside the container, relative to the asset root
	Fingerprint string // hex MD5 of the file content
}

// Manifest is the ordered set of entries written for one packer run
type Manifest struct {
	Label   string
	Created time.Time
	Entries []Entry
}

// Writer emits the KeyValues control file format. Every entry block is
// flushed as soon as it is written, so a file cut short between entries is
// still parseable.
type Writer struct {
	w *bufio.Writer
}

// NewWriter writes the header comment block to w
func NewWriter(w io.Writer, label string, created time.Time) (*Writer, error) {
	kw := &Writer{w: bufio.NewWriter(w)}
	_, _ = fmt.Fprintf(kw.w, "//\n")
	_, _ = fmt.Fprintf(kw.w, "//        Keyvalues Control File = \"%s\"\n", label)
	_, _ = fmt.Fprintf(kw.w, "//        made = %s\n", created.Format(TimestampLayout))
	_, _ = fmt.Fprintf(kw.w, "//\n\n")
	if err := kw.w.Flush(); err != nil {
		return nil, err
	}
	return kw, nil
}

// WriteEntry appends one entry block and flushes it
func (kw *Writer) WriteEntry(e Entry) error {
	_, _ = fmt.Fprintf(kw.w, "\"%s\"\n", e.SourcePath)
	_, _ = fmt.Fprintf(kw.w, "{\n")
	_, _ = fmt.Fprintf(kw.w, "    \"destpath\"    \"%s\"\n", e.DestPath)
	_, _ = fmt.Fprintf(kw.w, "    \"MD5\"         \"%s\"\n", e.Fingerprint)
	_, _ = fmt.Fprintf(kw.w, "}\n")
	return kw.w.Flush()
}

// Parse reads a control file written by Writer
func Parse(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		lineNo  int
		current *Entry
		inBlock bool
	)

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue

		case strings.HasPrefix(line, "//"):
			if err := parseHeader(m, strings.TrimSpace(strings.TrimPrefix(line, "//"))); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}

		case line == "{":
			if current == nil || inBlock {
				return nil, fmt.Errorf("line %d: unexpected '{'", lineNo)
			}
			inBlock = true

		case line == "}":
			if !inBlock {
				return nil, fmt.Errorf("line %d: unexpected '}'", lineNo)
			}
			if current.DestPath == "" || current.Fingerprint == "" {
				return nil, fmt.Errorf("line %d: entry %q is missing destpath or MD5", lineNo, current.SourcePath)
			}
			m.Entries = append(m.Entries, *current)
			current = nil
			inBlock = false

		case inBlock:
			fields := quotedFields(line)
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: expected a quoted key and value", lineNo)
			}
			switch fields[0] {
			case "destpath":
				current.DestPath = fields[1]
			case "MD5":
				current.Fingerprint = fields[1]
			}

		default:
			fields := quotedFields(line)
			if len(fields) != 1 || current != nil {
				return nil, fmt.Errorf("line %d: expected a quoted source path", lineNo)
			}
			current = &Entry{SourcePath: fields[0]}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if current != nil {
		return nil, fmt.Errorf("unterminated entry %q", current.SourcePath)
	}

	return m, nil
}

func parseHeader(m *Manifest, comment string) error {
	key, value, ok := strings.Cut(comment, "=")
	if !ok {
		return nil
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	switch key {
	case "Keyvalues Control File":
		m.Label = strings.Trim(value, `"`)
	case "made":
		created, err := time.ParseInLocation(TimestampLayout, value, time.Local)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", value, err)
		}
		m.Created = created
	}
	return nil
}

// quotedFields splits `"a" "b"` into [a b]. Text outside quotes is ignored.
func quotedFields(line string) []string {
	var fields []string
	for {
		start := strings.IndexByte(line, '"')
		if start < 0 {
			return fields
		}
		end := strings.IndexByte(line[start+1:], '"')
		if end < 0 {
			return fields
		}
		fields = append(fields, line[start+1:start+1+end])
		line = line[start+end+2:]
	}
}
