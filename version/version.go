// Package version reports build metadata embedded by the Go toolchain.
package version

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
)

// Info is the build identity of the running binary.
type Info struct {
	GoVersion string `json:"go_version"`
	Module    string `json:"module"`
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
}

// Current reads build info from the binary. Binaries built outside module
// mode report "unknown" fields.
func Current() Info {
	info := Info{GoVersion: "unknown", Module: "unknown", Version: "unknown"}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	info.Module = bi.Path
	if bi.Main.Version != "" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Revision = s.Value
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	return info
}

// String renders a one-line identity, e.g.
// "github.com/graphmind-ai/graphmind devel (go1.24, rev 1a2b3c4)".
func (i Info) String() string {
	out := fmt.Sprintf("%s %s (%s", i.Module, i.Version, i.GoVersion)
	if i.Revision != "" {
		rev := i.Revision
		if len(rev) > 7 {
			rev = rev[:7]
		}
		out += ", rev " + rev
		if i.Dirty {
			out += "-dirty"
		}
	}
	return out + ")"
}

// Dependencies lists the resolved module dependencies, sorted by path.
func Dependencies() []string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	deps := make([]string, 0, len(bi.Deps))
	for _, d := range bi.Deps {
		line := d.Path + " " + d.Version
		if d.Replace != nil {
			line += " => " + d.Replace.Path + " " + d.Replace.Version
		}
		deps = append(deps, line)
	}
	sort.Strings(deps)
	return deps
}

// Report renders the identity plus the dependency list for diagnostics.
func Report() string {
	var b strings.Builder
	b.WriteString(Current().String())
	for _, dep := range Dependencies() {
		b.WriteString("\n  ")
		b.WriteString(dep)
	}
	return b.String()
}
