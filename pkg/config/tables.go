package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-moderation/pkg/moderation"
)

// TablesFile is the on-disk form of the keyword tables. Omitted categories
// keep the built-in vocabulary.
type TablesFile struct {
	Abuse      []string              `yaml:"abuse,omitempty"`
	HateSpeech []string              `yaml:"hate_speech,omitempty"`
	Spam       []string              `yaml:"spam,omitempty"`
	Misleading []string              `yaml:"misleading,omitempty"`
	Thresholds moderation.Thresholds `yaml:"thresholds,omitempty"`
}

// ParseTables decodes a tables document. Unlike the service config, phrases
// are taken literally: no environment expansion is applied.
func ParseTables(data []byte) (moderation.Tables, error) {
	var file TablesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return moderation.Tables{}, fmt.Errorf("failed to parse tables: %w", err)
	}

	overrides := make(map[moderation.Category][]string, 4)
	if file.Abuse != nil {
		overrides[moderation.CategoryAbuse] = file.Abuse
	}
	if file.HateSpeech != nil {
		overrides[moderation.CategoryHateSpeech] = file.HateSpeech
	}
	if file.Spam != nil {
		overrides[moderation.CategorySpam] = file.Spam
	}
	if file.Misleading != nil {
		overrides[moderation.CategoryMisleading] = file.Misleading
	}

	tables, err := moderation.TablesFromMap(overrides, file.Thresholds)
	if err != nil {
		return moderation.Tables{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return tables, nil
}

// LoadTables reads and decodes the tables file at path.
func LoadTables(path string) (moderation.Tables, error) {
	//nolint:gosec // Tables path is controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return moderation.Tables{}, fmt.Errorf("failed to read tables file %s: %w", path, err)
	}
	tables, err := ParseTables(data)
	if err != nil {
		return moderation.Tables{}, fmt.Errorf("tables file %s: %w", path, err)
	}
	return tables, nil
}

// MarshalTables encodes tables in the TablesFile layout.
func MarshalTables(tables moderation.Tables) ([]byte, error) {
	file := TablesFile{
		Abuse:      tables.Abuse.Phrases(),
		HateSpeech: tables.HateSpeech.Phrases(),
		Spam:       tables.Spam.Phrases(),
		Misleading: tables.Misleading.Phrases(),
		Thresholds: tables.Thresholds,
	}
	return yaml.Marshal(file)
}
