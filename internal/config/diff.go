package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	DirectorsAdded   []string
	DirectorsRemoved []string
	DirectorsChanged []string

	RouterChanged bool
	NewRouter     RouterConfig

	BriefsChanged bool
	NewBriefs     []BriefDefinition

	SchedulerChanged bool
	NewPollInterval  SchedulerConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return len(d.DirectorsAdded) > 0 ||
		len(d.DirectorsRemoved) > 0 ||
		len(d.DirectorsChanged) > 0 ||
		d.RouterChanged ||
		d.BriefsChanged ||
		d.SchedulerChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	oldDirs := directorIndex(old.Directors)
	newDirs := directorIndex(new.Directors)

	for _, def := range new.Directors {
		prev, ok := oldDirs[def.Name]
		if !ok {
			d.DirectorsAdded = append(d.DirectorsAdded, def.Name)
			continue
		}
		if !reflect.DeepEqual(prev, def) {
			d.DirectorsChanged = append(d.DirectorsChanged, def.Name)
		}
	}
	for _, def := range old.Directors {
		if _, ok := newDirs[def.Name]; !ok {
			d.DirectorsRemoved = append(d.DirectorsRemoved, def.Name)
		}
	}

	if old.Router != new.Router {
		d.RouterChanged = true
		d.NewRouter = new.Router
	}

	if !reflect.DeepEqual(old.Briefs, new.Briefs) {
		d.BriefsChanged = true
		d.NewBriefs = new.Briefs
	}

	if old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulerChanged = true
		d.NewPollInterval = new.Scheduler
	}

	// Non-reloadable warnings
	if old.Telegram.Token != new.Telegram.Token {
		d.NonReloadable = append(d.NonReloadable, "telegram.token")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS.Port != new.NATS.Port {
		d.NonReloadable = append(d.NonReloadable, "nats.port")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.LLM != new.LLM {
		d.NonReloadable = append(d.NonReloadable, "llm")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}

	return d
}

func directorIndex(defs []DirectorDefinition) map[string]DirectorDefinition {
	m := make(map[string]DirectorDefinition, len(defs))
	for _, def := range defs {
		m[def.Name] = def
	}
	return m
}
