package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Value renders a raw JSON value. Created via Output.Value().
type Value struct {
	out  *Output
	meta Meta
	raw  json.RawMessage
}

// Render outputs the value in the configured format.
func (v *Value) Render() error { return v.out.Render(v) }

func (v *Value) Meta() Meta { return v.meta }

// RenderText writes the value as indented JSON; an absent value is "null".
func (v *Value) RenderText(w io.Writer) error {
	s, err := v.indent()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, s)
	return err
}

func (v *Value) RenderJSON() any {
	if len(v.raw) == 0 {
		return nil
	}
	return v.raw
}

func (v *Value) RenderMarkdown(w io.Writer) error {
	s, err := v.indent()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "```json\n%s\n```\n", s)
	return err
}

func (v *Value) indent() (string, error) {
	if len(v.raw) == 0 {
		return "null", nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, v.raw, "", "  "); err != nil {
		return "", fmt.Errorf("format value: %w", err)
	}
	return buf.String(), nil
}
