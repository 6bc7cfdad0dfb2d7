// Package buildinfo identifies the monitoring daemon build on the
// operational endpoints. The variables are stamped via -ldflags.
package buildinfo

import "runtime"

const Name = "carenav-monitord"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"name":    Name,
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
		"go":      runtime.Version(),
	}
}
