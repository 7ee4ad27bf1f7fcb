package runner

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// FlagSet reads typed flag values and collects lookup errors so a handler can
// read every flag first and check Err once.
type FlagSet struct {
	flags *pflag.FlagSet
	errs  []error
}

// Flags wraps the command's flag set.
func Flags(cmd *cobra.Command) *FlagSet {
	return &FlagSet{flags: cmd.Flags()}
}

func lookup[T any](f *FlagSet, name string, get func(string) (T, error)) T {
	val, err := get(name)
	if err != nil {
		f.errs = append(f.errs, fmt.Errorf("flag %s: %w", name, err))
	}
	return val
}

func (f *FlagSet) String(name string) string {
	return lookup(f, name, f.flags.GetString)
}

func (f *FlagSet) Bool(name string) bool {
	return lookup(f, name, f.flags.GetBool)
}

func (f *FlagSet) Float64(name string) float64 {
	return lookup(f, name, f.flags.GetFloat64)
}

func (f *FlagSet) Duration(name string) time.Duration {
	return lookup(f, name, f.flags.GetDuration)
}

// Changed reports whether the flag was set on the command line.
func (f *FlagSet) Changed(name string) bool {
	return f.flags.Changed(name)
}

// Err joins every lookup error, or returns nil.
func (f *FlagSet) Err() error {
	return errors.Join(f.errs...)
}
