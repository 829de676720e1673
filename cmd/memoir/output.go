package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func validateFormat(f string) error {
	switch f {
	case formatText, formatJSON:
		return nil
	default:
		return fmt.Errorf("unsupported format %q (want text or json)", f)
	}
}

// textWriter keeps the first write error so renderers can print freely.
type textWriter struct {
	w   io.Writer
	err error
}

func (t *textWriter) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}

// table prints aligned key/value rows.
func (t *textWriter) table(rows [][2]string) {
	if t.err != nil {
		return
	}
	tw := tabwriter.NewWriter(t.w, 0, 4, 2, ' ', 0)
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r[0], r[1])
	}
	t.err = tw.Flush()
}

// render writes v as indented JSON or through text.
func render(w io.Writer, format string, v any, text func(*textWriter)) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := &textWriter{w: w}
	text(tw)
	return tw.err
}
