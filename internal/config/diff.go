package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked; everything
// else (providers, quota, persistence) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged and DisruptionChanged mean the next session starts
	// with different settings.
	SessionChanged    bool
	DisruptionChanged bool

	// RestartRequired lists the sections whose changes are ignored until
	// restart.
	RestartRequired []string
}

// Empty reports whether nothing relevant changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SessionChanged && !d.DisruptionChanged &&
		len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !reflect.DeepEqual(old.Session, new.Session) {
		d.SessionChanged = true
	}
	if old.Disruption != new.Disruption {
		d.DisruptionChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Quota != new.Quota {
		d.RestartRequired = append(d.RestartRequired, "quota")
	}
	if old.Persistence != new.Persistence {
		d.RestartRequired = append(d.RestartRequired, "persistence")
	}
	return d
}
