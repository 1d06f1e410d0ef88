package api

import (
	"fmt"
	"runtime"
)

// BuildVersion is reported in the User-Agent. cmd/scanwatch copies its
// -ldflags version here at startup.
//
//nolint:gochecknoglobals // set at build time
var BuildVersion = "dev"

// UserAgent identifies this build to the scan service.
func UserAgent() string {
	return fmt.Sprintf("scanwatch/%s (%s; %s)", BuildVersion, runtime.GOOS, runtime.GOARCH)
}
