package policy

import (
	"sync"

	"gopkg.in/yaml.v3"
)

// Preset is a starting-point Policy definition an organization can clone
// when creating its own, served by the out-of-scope UI's policy-creation
// flow. The preset data lives here even though the CRUD handler that would
// serve it is out of scope (spec.md §1).
type Preset struct {
	Name                   string   `yaml:"name"`
	Description            string   `yaml:"description"`
	AllowedCommandPatterns []string `yaml:"allowedCommandPatterns"`
	DeniedCommandPatterns  []string `yaml:"deniedCommandPatterns"`
	RequireApproval        bool     `yaml:"requireApproval"`
	MaxConcurrentCommands  int      `yaml:"maxConcurrentCommands"`
}

// presetLibraryYAML mirrors the teacher's builtinConfig pattern of
// embedding default configuration as Go data rather than loading it from
// disk at runtime, but expressed here as YAML so it parses through the same
// gopkg.in/yaml.v3 path operator-authored policies do.
const presetLibraryYAML = `
- name: read-only-diagnostics
  description: Inspection commands only; nothing that mutates host state.
  allowedCommandPatterns:
    - '^(cat|less|head|tail|grep|ls|ps|df|du|free|uptime|netstat|ss|top|journalctl|dmesg)\b.*$'
  deniedCommandPatterns:
    - '^.*(rm|mkfs|dd|shutdown|reboot|kill|systemctl\s+(stop|restart)).*$'
  requireApproval: false
  maxConcurrentCommands: 4

- name: package-management
  description: Install, update, and remove packages via the system package manager.
  allowedCommandPatterns:
    - '^(apt-get|apt|yum|dnf|apk)\s+(install|update|upgrade|remove)\b.*$'
  deniedCommandPatterns:
    - '^.*(rm\s+-rf\s+/|mkfs|dd\s+if=).*$'
  requireApproval: true
  maxConcurrentCommands: 1

- name: service-restart
  description: Restart or reload managed services without broader system access.
  allowedCommandPatterns:
    - '^systemctl\s+(restart|reload|status)\s+\S+$'
  deniedCommandPatterns:
    - '^systemctl\s+(stop|disable)\s+(ssh|sshd|network\S*)$'
  requireApproval: true
  maxConcurrentCommands: 2
`

var (
	presetLibrary     []Preset
	presetLibraryOnce sync.Once
)

// Presets returns the built-in preset library, parsed once.
func Presets() []Preset {
	presetLibraryOnce.Do(func() {
		if err := yaml.Unmarshal([]byte(presetLibraryYAML), &presetLibrary); err != nil {
			panic("policy: built-in preset library failed to parse: " + err.Error())
		}
	})
	return presetLibrary
}
