package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SessionChanged     bool // true if personality, voice, or budget tier session fields changed
	PersonalityChanged bool // ActivationGreeting, FarewellText, or DeactivationPhrase changed
	VoiceChanged       bool
	BudgetTierChanged  bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session.ActivationGreeting != new.Session.ActivationGreeting ||
		old.Session.FarewellText != new.Session.FarewellText ||
		old.Session.DeactivationPhrase != new.Session.DeactivationPhrase {
		d.PersonalityChanged = true
		d.SessionChanged = true
	}

	if old.Session.Voice != new.Session.Voice {
		d.VoiceChanged = true
		d.SessionChanged = true
	}

	if old.Session.BudgetTier != new.Session.BudgetTier {
		d.BudgetTierChanged = true
		d.SessionChanged = true
	}

	return d
}
