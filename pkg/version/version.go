// Package version carries build metadata set through -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const name = "drivews"

type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func Get() *Info {
	return &Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func (i *Info) String() string {
	return fmt.Sprintf("%s %s (%s) built %s", name, i.Version, i.GitCommit, i.BuildTime)
}

// UserAgent identifies the client in remote API requests.
func UserAgent() string {
	return name + "/" + Version
}
