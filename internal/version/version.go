package version

import "runtime/debug"

// Version is stamped at build time with
// -ldflags "-X github.com/vorkdev/vork/internal/version.Version=v1.2.3".
var Version = "dev"

// Commit is the short VCS revision embedded by the go toolchain, if any.
var Commit string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			Commit = s.Value[:12]
		}
	}
}
