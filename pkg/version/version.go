// Package version stamps build metadata into the aggregator handshake
// and the startup log line.
package version

import "runtime/debug"

// AppName identifies this service in protocol handshakes.
const AppName = "docsight"

// commitOverride is injected with -ldflags for builds without VCS
// metadata, such as container builds.
var commitOverride string

// GitCommit is the short revision this binary was built from, or "dev"
// when no build info is available.
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commitOverride != "" {
		return short(commitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
