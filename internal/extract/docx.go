package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBodyPath = "word/document.xml"

func extractDOCX(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open docx archive failed: %v", ErrCorrupted, err)
	}

	for _, file := range reader.File {
		if file.Name != docxBodyPath {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("%w: open %s failed: %v", ErrCorrupted, docxBodyPath, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("%w: read %s failed: %v", ErrCorrupted, docxBodyPath, err)
		}
		return parseDocumentXML(content)
	}
	return "", fmt.Errorf("%w: %s not found", ErrCorrupted, docxBodyPath)
}

// parseDocumentXML walks word/document.xml in document order. Text in any
// w:t counts, whatever wraps its run (hyperlinks, insertions, content
// controls). Table cells are tab separated and each row is one line.
func parseDocumentXML(content []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(content))
	var (
		lines     []string
		line      strings.Builder
		inText    bool
		tabStops  int
		cellDepth int
	)
	flush := func() {
		lines = append(lines, strings.TrimRight(line.String(), " \t"))
		line.Reset()
	}

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: parse %s failed: %v", ErrCorrupted, docxBodyPath, err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "tabs":
				tabStops++
			case "tab":
				if tabStops == 0 {
					line.WriteString("\t")
				}
			case "br", "cr":
				flush()
			case "tc":
				cellDepth++
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "tabs":
				tabStops--
			case "p":
				if cellDepth > 0 {
					line.WriteString(" ")
				} else {
					flush()
				}
			case "tc":
				cellDepth--
				trimmed := strings.TrimRight(line.String(), " ")
				line.Reset()
				line.WriteString(trimmed)
				line.WriteString("\t")
			case "tr":
				flush()
			}
		case xml.CharData:
			if inText {
				line.Write(el)
			}
		}
	}
	if line.Len() > 0 {
		flush()
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
