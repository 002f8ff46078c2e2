package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
	}{
		{"json", FormatJSON},
		{"markdown", FormatMarkdown},
		{"md", FormatMarkdown},
		{"text", FormatText},
		{"", FormatText},
		{"JSON", FormatText}, // case-sensitive
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseFormat(tt.input); got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTableText(t *testing.T) {
	var buf bytes.Buffer
	err := NewOutput(FormatText, &buf).Table("methods", "Method", "Key").
		AddRow("echo", "service:system:1:echo").
		AddRow("time", "service:system:1:time").
		Render()
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"METHOD", "echo", "service:system:1:time"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTableJSONEnvelope(t *testing.T) {
	var buf bytes.Buffer
	err := NewOutput(FormatJSON, &buf).Table("methods", "Method", "Full Key").
		AddRow("echo", "service:system:1:echo").
		Render()
	if err != nil {
		t.Fatal(err)
	}

	var env struct {
		Meta Meta                `json:"meta"`
		Data []map[string]string `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if env.Meta.Type != "methods" || env.Meta.Generated.IsZero() {
		t.Errorf("meta = %+v", env.Meta)
	}
	if len(env.Data) != 1 || env.Data[0]["full_key"] != "service:system:1:echo" {
		t.Errorf("data = %v", env.Data)
	}
}

func TestTableMarkdown(t *testing.T) {
	var buf bytes.Buffer
	err := NewOutput(FormatMarkdown, &buf).Table("backends", "Backend").AddRow("grpc").Render()
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "---\n") || !strings.Contains(out, "type: backends") {
		t.Errorf("missing frontmatter:\n%s", out)
	}
	if !strings.Contains(out, "| grpc |") {
		t.Errorf("missing markdown row:\n%s", out)
	}
}

func TestKV(t *testing.T) {
	var buf bytes.Buffer
	o := NewOutput(FormatText, &buf)
	if err := o.KV("info").Set("port", "abc_1").Set("uptime", "2s").Render(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "port:") || !strings.Contains(buf.String(), "abc_1") {
		t.Errorf("text = %q", buf.String())
	}

	buf.Reset()
	if err := o.KV("empty").Render(); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty KV wrote %q", buf.String())
	}

	buf.Reset()
	if err := NewOutput(FormatMarkdown, &buf).KV("info").Set("a|b", "x|y").Render(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `**a|b:** x\|y`) {
		t.Errorf("markdown = %q", buf.String())
	}
}

func TestValue(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		raw    string
		want   string
	}{
		{"text object", FormatText, `{"a":1}`, "{\n  \"a\": 1\n}\n"},
		{"text string", FormatText, `"pong"`, "\"pong\"\n"},
		{"text absent", FormatText, ``, "null\n"},
		{"markdown", FormatMarkdown, `[1]`, "```json\n[\n  1\n]\n```\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewOutput(tt.format, &buf).Value("response", "ping", json.RawMessage(tt.raw)).Render(); err != nil {
				t.Fatal(err)
			}
			if !strings.HasSuffix(buf.String(), tt.want) {
				t.Fatalf("output = %q, want suffix %q", buf.String(), tt.want)
			}
		})
	}
}

func TestValueJSONKeepsKey(t *testing.T) {
	var buf bytes.Buffer
	if err := NewOutput(FormatJSON, &buf).Value("response", "ping", json.RawMessage(`"pong"`)).Render(); err != nil {
		t.Fatal(err)
	}
	var env struct {
		Meta Meta   `json:"meta"`
		Data string `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Meta.Key != "ping" || env.Data != "pong" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestValueRejectsInvalidJSON(t *testing.T) {
	err := NewOutput(FormatText, &bytes.Buffer{}).Value("response", "x", json.RawMessage(`{`)).Render()
	if err == nil {
		t.Fatal("expected error")
	}
}
