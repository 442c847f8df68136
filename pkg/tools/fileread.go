package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gopdf "github.com/ledongthuc/pdf"
)

const (
	readLineLimit = 2000
	readLineWidth = 2000
	readPageLimit = 20
)

// FileReadTool returns numbered file content. PDFs are read as text.
type FileReadTool struct{}

func (f *FileReadTool) Group() string { return "power" }
func (f *FileReadTool) Name() string  { return "file_read" }

func (f *FileReadTool) Description() string {
	return fmt.Sprintf(`Reads a file with numbered lines. Relative paths resolve against the task's working directory.
Up to %d lines are returned per call; pass offset (1-based) and limit to page through long files.
Lines longer than %d characters are cut. PDFs are returned as extracted text; pass pages (e.g. "3" or "1-5") for documents over %d pages.`,
		readLineLimit, readLineWidth, readPageLimit)
}

func (f *FileReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "The path of the file to read",
			},
			"offset": map[string]any{
				"type":        "number",
				"description": "First line to return, starting at 1",
			},
			"limit": map[string]any{
				"type":        "number",
				"description": "Maximum number of lines to return",
			},
			"pages": map[string]any{
				"type":        "string",
				"description": "PDF page or page range such as \"3\" or \"1-5\"",
			},
		},
		"required": []string{"file_path"},
	}
}

func (f *FileReadTool) SideEffect() SideEffectType { return SideEffectNone }

func (f *FileReadTool) Execute(_ context.Context, env Env, input map[string]any) (ToolOutput, error) {
	name, _ := input["file_path"].(string)
	if name == "" {
		return errorOutput("file_path is required"), nil
	}
	path := env.resolve(name)

	info, err := os.Stat(path)
	if err != nil {
		return errorOutput("%s", err), nil
	}
	if info.IsDir() {
		return errorOutput("%s is a directory; use power/glob to list it", name), nil
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		pages, _ := input["pages"].(string)
		return readPDF(path, pages), nil
	}
	if isBinary(path) {
		return errorOutput("%s is a binary file", name), nil
	}

	offset, limit := 1, readLineLimit
	if v, ok := input["offset"].(float64); ok && v >= 1 {
		offset = int(v)
	}
	if v, ok := input["limit"].(float64); ok && v >= 1 {
		limit = int(v)
	}
	return readText(path, offset, limit), nil
}

func writeNumbered(b *strings.Builder, n int, line string) {
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	if len(line) > readLineWidth {
		line = line[:readLineWidth]
	}
	fmt.Fprintf(b, "%6d\t%s", n, line)
}

func readText(path string, offset, limit int) ToolOutput {
	file, err := os.Open(path)
	if err != nil {
		return errorOutput("%s", err)
	}
	defer file.Close()

	var b strings.Builder
	last, total := 0, 0
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		total++
		if total >= offset && total < offset+limit {
			writeNumbered(&b, total, sc.Text())
			last = total
		}
	}
	if err := sc.Err(); err != nil {
		return errorOutput("reading file: %s", err)
	}

	switch {
	case total == 0:
		return ToolOutput{Content: "(empty file)"}
	case last == 0:
		return errorOutput("offset %d is past the end of the file (%d lines)", offset, total)
	case last < total:
		fmt.Fprintf(&b, "\n\n(lines %d-%d of %d; continue with offset %d)", offset, last, total, last+1)
	}
	return ToolOutput{Content: b.String()}
}

func readPDF(path, pages string) ToolOutput {
	file, doc, err := gopdf.Open(path)
	if err != nil {
		return errorOutput("opening PDF: %s", err)
	}
	defer file.Close()

	total := doc.NumPage()
	if total == 0 {
		return ToolOutput{Content: "(empty PDF)"}
	}
	first, last := 1, total
	if pages != "" {
		if first, last, err = parsePDFPageRange(pages, total); err != nil {
			return errorOutput("%s", err)
		}
	} else if total > readPageLimit {
		return errorOutput("PDF has %d pages; pass pages to read at most %d at a time", total, readPageLimit)
	}
	if n := last - first + 1; n > readPageLimit {
		return errorOutput("requested %d PDF pages; at most %d per call", n, readPageLimit)
	}

	var b strings.Builder
	n := 0
	for i := first; i <= last; i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			n++
			writeNumbered(&b, n, fmt.Sprintf("[page %d unreadable: %s]", i, err))
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
			n++
			writeNumbered(&b, n, line)
		}
	}
	if b.Len() == 0 {
		return ToolOutput{Content: "(no text extracted from PDF)"}
	}
	return ToolOutput{Content: b.String()}
}

// parsePDFPageRange reads "N" or "N-M" and clamps the range to the
// document.
func parsePDFPageRange(pages string, total int) (int, int, error) {
	lo, hi, isRange := strings.Cut(strings.TrimSpace(pages), "-")
	if !isRange {
		hi = lo
	}
	first, err1 := strconv.Atoi(strings.TrimSpace(lo))
	last, err2 := strconv.Atoi(strings.TrimSpace(hi))
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("invalid page range %q", pages)
	}
	first = max(first, 1)
	last = min(last, total)
	if first > last {
		return 0, 0, fmt.Errorf("invalid page range %q", pages)
	}
	return first, last, nil
}
