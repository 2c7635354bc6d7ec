package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/isaacs-12/nso-gc-bridge/internal/version"
)

// Version prints the build version and checks GitHub for a newer release.
type Version struct {
	NoCheck bool `help:"Skip the update check"`
}

func (v *Version) Run(logger *slog.Logger) error {
	fmt.Println(version.Version)
	if v.NoCheck {
		return nil
	}
	tag, url, newer, err := version.CheckLatest(context.Background())
	if err != nil {
		logger.Debug("Update check failed", "error", err)
		return nil
	}
	if newer {
		fmt.Printf("A newer release is available: %s\n%s\n", tag, url)
	}
	return nil
}
