package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// extractDOCX reads paragraphs in document order, one per line. Table rows
// become one line with cells joined by " | ".
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("docx container: %w", err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("docx container has no %s", docxBody)
	}

	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", docxBody, err)
	}
	defer rc.Close()

	return readDocumentXML(rc)
}

// readDocumentXML walks WordprocessingML tokens. Only local names are
// matched; the w: namespace is assumed.
func readDocumentXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		lines     []string
		paragraph strings.Builder
		cells     []string
		cell      []string
		tableRow  = 0 // nesting depth of w:tr
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", docxBody, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				var v string
				if err := dec.DecodeElement(&v, &t); err != nil {
					return "", fmt.Errorf("parse %s: %w", docxBody, err)
				}
				paragraph.WriteString(v)
			case "tab":
				paragraph.WriteString("\t")
			case "br":
				paragraph.WriteString("\n")
			case "tr":
				tableRow++
				cells = nil
			case "tc":
				cell = nil
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				text := strings.TrimSpace(paragraph.String())
				paragraph.Reset()
				if text == "" {
					continue
				}
				if tableRow > 0 {
					cell = append(cell, text)
				} else {
					lines = append(lines, text)
				}
			case "tc":
				if text := strings.Join(cell, " "); text != "" {
					cells = append(cells, text)
				}
				cell = nil
			case "tr":
				if len(cells) > 0 {
					lines = append(lines, strings.Join(cells, " | "))
				}
				cells = nil
				tableRow--
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}
