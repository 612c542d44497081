// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/zeebo/errs"
	"gopkg.in/yaml.v3"
)

// SaveConfig writes the flags of cmd to outfile. Values given in overrides
// are written as set values; every other flag is written commented out with
// its current value.
func SaveConfig(cmd *cobra.Command, outfile string, overrides map[string]interface{}) error {
	return SaveConfigWithAllDefaults(cmd.Flags(), outfile, overrides)
}

// SaveConfigWithAllDefaults writes every saveable flag in flags to outfile.
// Hidden and setup flags are skipped.
func SaveConfigWithAllDefaults(flags *pflag.FlagSet, outfile string, overrides map[string]interface{}) error {
	type entry struct {
		name    string
		value   string
		usage   string
		changed bool
	}

	var entries []entry
	var encodeErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if readBoolAnnotation(f, "setup") || readBoolAnnotation(f, "hidden") || f.Hidden {
			return
		}
		if f.Name == "config-dir" || f.Name == "help" || strings.HasPrefix(f.Name, "test.") {
			return
		}

		var value interface{} = f.Value.String()
		override, overridden := overrides[f.Name]
		if overridden {
			value = override
		}

		encoded, err := encodeValue(f, value)
		if err != nil {
			encodeErr = errs.Combine(encodeErr, Error.New("%s: %v", f.Name, err))
			return
		}
		entries = append(entries, entry{
			name:    f.Name,
			value:   encoded,
			usage:   f.Usage,
			changed: overridden || f.Changed || readBoolAnnotation(f, "user"),
		})
	})
	if encodeErr != nil {
		return encodeErr
	}

	sort.Slice(entries, func(i, k int) bool { return entries[i].name < entries[k].name })

	var buf bytes.Buffer
	for _, e := range entries {
		if e.usage != "" {
			_, _ = fmt.Fprintf(&buf, "# %s\n", e.usage)
		}
		if e.changed {
			_, _ = fmt.Fprintf(&buf, "%s: %s\n\n", e.name, e.value)
		} else {
			_, _ = fmt.Fprintf(&buf, "# %s: %s\n\n", e.name, e.value)
		}
	}

	return Error.Wrap(atomicWrite(outfile, 0600, buf.Bytes()))
}

// encodeValue formats value as a yaml scalar. String flags are quoted when
// yaml would read them as something else.
func encodeValue(f *pflag.Flag, value interface{}) (string, error) {
	if s, ok := value.(string); ok && f.Value.Type() != "string" {
		return s, nil
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// readBoolAnnotation is a helper to see if a boolean annotation is set to true on the flag.
func readBoolAnnotation(flag *pflag.Flag, key string) bool {
	annotation := flag.Annotations[key]
	return len(annotation) > 0 && annotation[0] == "true"
}

// atomicWrite is a helper to atomically write the data to the outfile.
func atomicWrite(outfile string, mode os.FileMode, data []byte) (err error) {
	fh, err := os.CreateTemp(filepath.Dir(outfile), filepath.Base(outfile))
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, fh.Close())
			err = errs.Combine(err, os.Remove(fh.Name()))
		}
	}()
	if _, err := fh.Write(data); err != nil {
		return errs.Wrap(err)
	}
	if err := fh.Chmod(mode); err != nil {
		return errs.Wrap(err)
	}
	if err := fh.Sync(); err != nil {
		return errs.Wrap(err)
	}
	if err := fh.Close(); err != nil {
		return errs.Wrap(err)
	}
	if err := os.Rename(fh.Name(), outfile); err != nil {
		return errs.Wrap(err)
	}
	return nil
}
