package profile

import "github.com/matheus3301/relay/internal/config"

const DefaultName = "main"

// Resolve picks the active profile, loading config.toml for the default.
func Resolve(flagOverride string) string {
	// LoadOrDefault returns a nil config on error, which falls through to "main".
	cfg, _ := config.LoadOrDefault(ConfigPath())
	return ResolveWith(flagOverride, cfg)
}

// ResolveWith picks the active profile from an already loaded config:
// the --profile flag, then default_profile (or RELAY_PROFILE), then "main".
// cfg may be nil.
func ResolveWith(flagOverride string, cfg *config.Config) string {
	switch {
	case flagOverride != "":
		return flagOverride
	case cfg != nil && cfg.DefaultProfile != "":
		return cfg.DefaultProfile
	}
	return DefaultName
}
