package depend

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/qobs-build/ccbuild/internal/mtime"
)

// Only these three are escaped in attribute values. A literal entity such
// as "&amp;" in a path is therefore read back decoded; the walker then
// reparses the including file and rebuilds.
var attrEscaper = strings.NewReplacer(`"`, "&quot;", "<", "&lt;", ">", "&gt;")

type recordGroup struct {
	signature string
	records   []*Info
}

func writeDependencies(w io.Writer, groups []recordGroup) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("<?xml version='1.0' encoding='UTF-8'?>\n")
	bw.WriteString("<dependencies>\n")
	for _, g := range groups {
		fmt.Fprintf(bw, "<includePath signature=\"%s\">\n", attrEscaper.Replace(g.signature))
		for _, info := range g.records {
			fmt.Fprintf(bw, "<source file=\"%s\" lastModified=\"%s\">\n",
				attrEscaper.Replace(info.Source), mtime.FormatHex(info.SourceLastModified))
			for _, inc := range info.Includes {
				fmt.Fprintf(bw, "<include file=\"%s\"/>\n", attrEscaper.Replace(inc))
			}
			for _, inc := range info.SysIncludes {
				fmt.Fprintf(bw, "<sysinclude file=\"%s\"/>\n", attrEscaper.Replace(inc))
			}
			bw.WriteString("</source>\n")
		}
		bw.WriteString("</includePath>\n")
	}
	bw.WriteString("</dependencies>\n")
	return bw.Flush()
}

// readDependencies decodes a dependency file and calls emit for every
// complete source record. Decoding is lenient; on error, records emitted
// so far stand.
func readDependencies(r io.Reader, emit func(*Info)) error {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var signature string
	var cur *Info
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "includePath":
				signature = attr(el, "signature")
			case "source":
				file := attr(el, "file")
				if file == "" {
					return fmt.Errorf("line %d: source without file attribute", lineOf(dec))
				}
				modified, err := mtime.ParseHex(attr(el, "lastModified"))
				if err != nil {
					return fmt.Errorf("line %d: bad lastModified for %s: %w", lineOf(dec), file, err)
				}
				cur = NewInfo(file, signature, modified, nil, nil)
			case "include":
				if cur != nil {
					cur.Includes = append(cur.Includes, attr(el, "file"))
				}
			case "sysinclude":
				if cur != nil {
					cur.SysIncludes = append(cur.SysIncludes, attr(el, "file"))
				}
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "source":
				if cur != nil {
					emit(cur)
					cur = nil
				}
			case "includePath":
				signature = ""
			}
		}
	}
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func lineOf(dec *xml.Decoder) int {
	line, _ := dec.InputPos()
	return line
}
