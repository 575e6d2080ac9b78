package cli

import (
	"runtime/debug"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// VersionAction prints the revision gitsim was built from.
func VersionAction(c *cli.Context) error {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return errors.New("error reading build info")
	}
	if c.Bool(debugFlag) {
		printf(c.App.Writer, "%s", info.String())
	}
	settings := make(map[string]string, len(info.Settings))
	for _, setting := range info.Settings {
		settings[setting.Key] = setting.Value
	}
	revision := "?"
	if rev, ok := settings["vcs.revision"]; ok {
		revision = rev
		if len(revision) > 8 {
			revision = revision[:8]
		}
		if settings["vcs.modified"] == "true" {
			revision += "+"
		}
	}
	version := info.Main.Version
	if version == "" {
		version = "(devel)"
	}
	printf(c.App.Writer, "gitsim %s Git=%s Go=%s", version, revision, info.GoVersion)
	return nil
}
