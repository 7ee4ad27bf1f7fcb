package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// printer writes human output to the command's stdout
type printer struct {
	w io.Writer
}

func out(cmd *cobra.Command) printer {
	return printer{w: cmd.OutOrStdout()}
}

// Success prints a success message
func (p printer) Success(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "✅ "+format+"\n", args...)
}

// Warning prints a warning message
func (p printer) Warning(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "⚠️  "+format+"\n", args...)
}

// Info prints an info message
func (p printer) Info(format string, args ...interface{}) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Header prints a section header
func (p printer) Header(title string) {
	fmt.Fprintln(p.w, title)
	fmt.Fprintln(p.w, strings.Repeat("=", len(title)))
}

// Divider prints a visual divider
func (p printer) Divider() {
	fmt.Fprintln(p.w, strings.Repeat("-", 70))
}

// JSON prints v as indented JSON
func (p printer) JSON(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// shortHash trims a hex digest for display
func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16] + "…"
}
