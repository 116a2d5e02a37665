package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Profile kinds reported back to clients.
const (
	ProfileClinical = "clinical"
	ProfileGeneral  = "general"
)

// Profile is the upstream model/language pair selected for a session.
type Profile struct {
	Kind     string `yaml:"kind" json:"profile"`
	Model    string `yaml:"model" json:"model"`
	Language string `yaml:"language" json:"language"`
}

// catalogFile is the on-disk shape of STT_CATALOG_FILE.
type catalogFile struct {
	Profiles []struct {
		Languages []string `yaml:"languages"`
		Model     string   `yaml:"model"`
		Language  string   `yaml:"language"`
		Kind      string   `yaml:"kind"`
	} `yaml:"profiles"`
}

// Catalog maps requested languages to upstream profiles.
// It is built once at startup and never mutated, so concurrent reads are safe.
type Catalog struct {
	defaultTag   language.Tag
	clinical     Profile
	generalModel string
	overrides    map[string]Profile
}

// NewCatalog builds a catalog from the STT settings alone.
func NewCatalog(cfg STTConfig) (*Catalog, error) {
	tag, err := language.Parse(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("parse default language %q: %w", cfg.DefaultLanguage, err)
	}
	if strings.TrimSpace(cfg.ClinicalModel) == "" || strings.TrimSpace(cfg.GeneralModel) == "" {
		return nil, errors.New("clinical and general models must be configured")
	}
	return &Catalog{
		defaultTag: tag,
		clinical: Profile{
			Kind:     ProfileClinical,
			Model:    cfg.ClinicalModel,
			Language: tag.String(),
		},
		generalModel: cfg.GeneralModel,
		overrides:    map[string]Profile{},
	}, nil
}

// LoadCatalog builds a catalog and applies overrides from cfg.CatalogFile when set.
func LoadCatalog(cfg STTConfig) (*Catalog, error) {
	c, err := NewCatalog(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.CatalogFile == "" {
		return c, nil
	}

	raw, err := os.ReadFile(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode catalog file: %w", err)
	}

	for i, entry := range file.Profiles {
		if entry.Model == "" {
			return nil, fmt.Errorf("catalog profile %d: model is required", i)
		}
		kind := entry.Kind
		if kind == "" {
			kind = ProfileGeneral
		}
		for _, lang := range entry.Languages {
			tag, err := language.Parse(lang)
			if err != nil {
				return nil, fmt.Errorf("catalog profile %d: parse language %q: %w", i, lang, err)
			}
			target := entry.Language
			if target == "" {
				target = tag.String()
			}
			c.overrides[tag.String()] = Profile{Kind: kind, Model: entry.Model, Language: target}
		}
	}
	return c, nil
}

// Resolve selects the profile for a requested language. The same tag always
// yields the same profile.
func (c *Catalog) Resolve(tag language.Tag) Profile {
	key := tag.String()
	if p, ok := c.overrides[key]; ok {
		return p
	}
	if key == c.defaultTag.String() {
		return c.clinical
	}
	return Profile{Kind: ProfileGeneral, Model: c.generalModel, Language: key}
}

// DefaultLanguage returns the language served by the clinical profile.
func (c *Catalog) DefaultLanguage() string {
	return c.defaultTag.String()
}
