package main

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// buildInfo describes the running binary.
type buildInfo struct {
	Version  string
	Go       string
	Revision string
	Dirty    bool
}

func readBuildInfo() buildInfo {
	b := buildInfo{Version: "unknown", Go: "unknown", Revision: "unknown"}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	b.Go = info.GoVersion
	if b.Version = info.Main.Version; b.Version == "" || b.Version == "(devel)" {
		b.Version = "dev"
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Revision = s.Value
		case "vcs.modified":
			b.Dirty = s.Value == "true"
		}
	}
	return b
}

func (b buildInfo) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "checkform %s\n  go:       %s\n  revision: %s\n", b.Version, b.Go, b.Revision)
	if b.Dirty {
		sb.WriteString("  modified: true\n")
	}
	return sb.String()
}
