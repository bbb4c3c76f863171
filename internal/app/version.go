package app

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is overridden at build time with -ldflags "-X pyrechat/internal/app.Version=...".
var Version = "0.3.0"

// VersionString describes the binary: version, VCS revision when the build
// recorded one, and the Go toolchain.
func VersionString(name string) string {
	revision := ""
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
				revision = " (" + setting.Value[:7] + ")"
			}
		}
	}
	return fmt.Sprintf("%s %s%s %s/%s %s", name, Version, revision, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
