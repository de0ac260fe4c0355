package profile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"
)

// Format selects a report layout.
type Format string

const (
	FormatYAML   Format = "yaml"
	FormatText   Format = "text"
	FormatFolded Format = "folded"
)

var ErrUnknownFormat = errors.New("profile: unknown report format")

// ParseFormat accepts "yaml", "text" or "folded"; the empty string means
// text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatText, nil
	case FormatYAML, FormatText, FormatFolded:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// WriteReport writes snap to w in the given format. Text reports are
// coloured when w is a terminal.
func WriteReport(w io.Writer, snap Snapshot, format Format) error {
	switch format {
	case FormatYAML:
		return WriteYAML(w, snap)
	case FormatText:
		return WriteText(w, snap, IsTerminal(w))
	case FormatFolded:
		return WriteFolded(w, snap)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// WriteYAML writes snap as a YAML document.
func WriteYAML(w io.Writer, snap Snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return err
	}
	return enc.Close()
}

const (
	ansiBold  = "\x1b[1m"
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[0m"
)

// WriteText writes snap as aligned tables of functions and lines.
func WriteText(w io.Writer, snap Snapshot, color bool) error {
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + ansiReset
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "%s\n", paint(ansiBold, fmt.Sprintf("%d samples, period %s", snap.Samples, snap.Period)))
	if snap.Empty > 0 {
		fmt.Fprintf(tw, "%d samples had no frames\n", snap.Empty)
	}

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "self\tself%\ttotal\ttotal%\t\tfunction")
	for i, f := range snap.Functions {
		name := f.Function
		if i == 0 && f.Self > 0 {
			name = paint(ansiRed, name)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t\t%s\n", f.Self, percent(f.Self, snap.Samples), f.Total, percent(f.Total, snap.Samples), name)
	}

	if len(snap.Lines) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "self\tself%\t\tline")
		for _, l := range snap.Lines {
			fmt.Fprintf(tw, "%d\t%s\t\t%s line %d\n", l.Self, percent(l.Self, snap.Samples), l.Function, l.Line)
		}
	}
	return tw.Flush()
}

func percent(n, of uint64) string {
	if of == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(n)/float64(of))
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
