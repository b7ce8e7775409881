package zfs

import "strings"

// BenignRule downgrades a failed tool invocation to success when its stderr
// matches a known "already in the desired state" pattern.
type BenignRule struct {
	Command   string
	Substring string
	Message   string
}

// BenignRules is the complete downgrade table. Tests assert this table is
// exactly the accepted set; additions belong here, not in handlers.
var BenignRules = []BenignRule{
	{"mount", "already mounted", "Dataset is already mounted."},
	{"mount", "keystore", "Dataset key is not loaded; mount deferred."},
	{"mount", "keys are not loaded", "Dataset key is not loaded; mount deferred."},
	{"unmount", "not mounted", "Dataset is already unmounted."},
	{"load-key", "keys are already loaded", "Key is already loaded."},
	{"unload-key", "keys are already unloaded", "Key is already unloaded."},
	{"unload-key", "dataset is not encrypted", "Dataset is not encrypted."},
	{"import -l", "no pools available for import", "No pools available for import."},
	{"remove", "is busy", "Removal may be pending; the device is busy."},
	{"remove", "i/o error", "Removal may be pending due to device errors."},
}

// benignMatch returns the informational message for the first rule matching
// the command and stderr, or "" when the failure is real.
func benignMatch(command, stderr string) string {
	lower := strings.ToLower(stderr)
	for _, rule := range BenignRules {
		if rule.Command == command && strings.Contains(lower, rule.Substring) {
			return rule.Message
		}
	}
	return ""
}
