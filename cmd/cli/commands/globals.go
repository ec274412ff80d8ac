package commands

import (
	"context"
	"errors"
	"io/fs"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/guacplay/guacplay/internal/blob"
	"github.com/guacplay/guacplay/internal/config"
	"github.com/guacplay/guacplay/internal/util"
)

// Global CLI flags
var (
	// ConfigPath is the path to the config file; empty uses the default.
	ConfigPath string
)

// loadConfig loads the configuration from the flag, or the default path.
func loadConfig() (*config.Config, error) {
	path := ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// openSource opens a recording file, following it when the capture is still
// being written. In follow mode the capture may not exist yet (the recorder
// has not flushed its first block), so the open is retried with backoff.
func openSource(path string, follow bool, cfg *config.Config) (blob.Source, func() error, error) {
	if follow {
		var src *blob.Following
		result := util.Retry(context.Background(), &util.RetryConfig{
			MaxRetries: 20,
			BaseDelay:  250 * time.Millisecond,
			MaxDelay:   5 * time.Second,
			Multiplier: 2.0,
			Jitter:     0.1,
			RetryIf:    func(err error) bool { return errors.Is(err, fs.ErrNotExist) },
		}, func() error {
			var err error
			src, err = blob.FollowFile(path, time.Duration(cfg.Player.FollowPollMs)*time.Millisecond)
			return err
		})
		if result.LastError != nil {
			return nil, nil, result.LastError
		}
		return src, src.Close, nil
	}
	src, err := blob.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	return src, src.Close, nil
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

// GetGoVersion returns the Go version
func GetGoVersion() string {
	return runtime.Version()
}
