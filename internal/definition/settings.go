package definition

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Settings tune how uses are matched to declarations.
type Settings struct {
	// CaseSensitive controls mixin and function name matching. Variables
	// always match exactly.
	CaseSensitive bool `json:"caseSensitive" mapstructure:"case_sensitive" yaml:"case_sensitive"`
}

func DefaultSettings() Settings {
	return Settings{CaseSensitive: true}
}

// ParseSettings decodes a settings object on top of the defaults. Unknown keys
// are ignored and an empty payload yields the defaults.
func ParseSettings(raw json.RawMessage) (Settings, error) {
	return DefaultSettings().Merge(raw)
}

// Merge decodes raw on top of s. Keys absent from raw keep their value in s.
func (s Settings) Merge(raw json.RawMessage) (Settings, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return s, nil
	}
	merged := s
	if err := json.Unmarshal(raw, &merged); err != nil {
		return s, errors.Wrap(err, "decode settings")
	}
	return merged, nil
}
