package profile

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func testSnapshot() Snapshot {
	a := NewAggregator()
	for _, r := range testRecords() {
		a.Add(r)
	}
	return a.Snapshot(0)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		err  bool
	}{
		{"", FormatText, false},
		{"yaml", FormatYAML, false},
		{"YAML", FormatYAML, false},
		{"text", FormatText, false},
		{"folded", FormatFolded, false},
		{"json", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.err {
			if !errors.Is(err, ErrUnknownFormat) {
				t.Errorf("ParseFormat(%q) err = %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteYAML(t *testing.T) {
	snap := testSnapshot()
	var buf bytes.Buffer
	if err := WriteYAML(&buf, snap); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"samples: 6", "period: 10ms", "function: t.lua:2 (f)", "native: true"} {
		if !strings.Contains(out, want) {
			t.Errorf("YAML report lacks %q:\n%s", want, out)
		}
	}

	var back Snapshot
	if err := yaml.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back, snap) {
		t.Errorf("YAML did not read back:\ngot  %+v\nwant %+v", back, snap)
	}
}

func TestWriteText(t *testing.T) {
	snap := testSnapshot()

	var plain bytes.Buffer
	if err := WriteText(&plain, snap, false); err != nil {
		t.Fatal(err)
	}
	out := plain.String()
	if strings.Contains(out, "\x1b[") {
		t.Errorf("plain report has escape codes:\n%s", out)
	}
	for _, want := range []string{
		"6 samples, period 10ms",
		"1 samples had no frames",
		"33.3%",
		"t.lua:2 (f)",
		"t.lua:5 (g) line 6",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text report lacks %q:\n%s", want, out)
		}
	}

	var colored bytes.Buffer
	if err := WriteText(&colored, snap, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(colored.String(), ansiRed+"t.lua:2 (f)"+ansiReset) {
		t.Errorf("hottest function not highlighted:\n%q", colored.String())
	}
}

func TestWriteReport(t *testing.T) {
	snap := testSnapshot()
	var buf bytes.Buffer
	if err := WriteReport(&buf, snap, FormatFolded); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(buf.String(), "t.lua:0;t.lua:2 (f);t.lua:5 (g) 2\n") {
		t.Errorf("folded report = %q", buf.String())
	}

	buf.Reset()
	if err := WriteReport(&buf, snap, FormatText); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Error("a buffer is not a terminal but got colour")
	}

	if err := WriteReport(&buf, snap, Format("xml")); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("xml err = %v", err)
	}
}
