package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Well-known top-level keys and service names.
const (
	KeyVersion = "version"

	SectionDefault = "default"

	ServiceMongo = "mongo"
)

// SupportedVersions lists the configuration schema versions this build reads.
var SupportedVersions = []string{"1"}

// Error kinds distinguished at startup.
var (
	ErrMissingVersion     = errors.New("required configuration field \"version\" missing")
	ErrUnsupportedVersion = errors.New("configuration version not supported")
	ErrUnknownService     = errors.New("service not found in configuration")
	ErrUnknownSection     = errors.New("section not found in service")
)

// StoreConfig selects a document store endpoint.
type StoreConfig struct {
	URI  string `yaml:"uri"`
	Name string `yaml:"name"`
}

// Config is the parsed, version-gated configuration document. Services map
// to sections, sections to key/value settings.
type Config struct {
	Version  string
	services map[string]map[string]map[string]string
}

// Load reads and validates a configuration file.
func Load(filename string) (*Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading configuration %s: %w", filename, err)
	}
	return Parse(raw)
}

// Parse validates a configuration document from bytes.
func Parse(raw []byte) (*Config, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	versionValue, ok := doc[KeyVersion]
	if !ok {
		return nil, ErrMissingVersion
	}
	version := fmt.Sprintf("%v", versionValue)
	supported := false
	for _, v := range SupportedVersions {
		if version == v {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedVersion, version, SupportedVersions)
	}

	cfg := &Config{
		Version:  version,
		services: map[string]map[string]map[string]string{},
	}
	for service, sections := range doc {
		if service == KeyVersion {
			continue
		}
		sectionMap, ok := sections.(map[string]any)
		if !ok {
			continue
		}
		cfg.services[service] = map[string]map[string]string{}
		for section, settings := range sectionMap {
			settingMap, ok := settings.(map[string]any)
			if !ok {
				continue
			}
			values := map[string]string{}
			for k, v := range settingMap {
				values[k] = fmt.Sprintf("%v", v)
			}
			cfg.services[service][section] = values
		}
	}
	return cfg, nil
}

// Service returns the settings of one section of a service. An empty
// section selects "default". Missing services and sections are hard errors.
func (c *Config) Service(service, section string) (map[string]string, error) {
	sections, ok := c.services[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	if section == "" {
		section = SectionDefault
	}
	settings, ok := sections[section]
	if !ok {
		return nil, fmt.Errorf("%w: %q in service %q", ErrUnknownSection, section, service)
	}
	return settings, nil
}

// Store resolves the document store endpoint for a section.
func (c *Config) Store(section string) (StoreConfig, error) {
	settings, err := c.Service(ServiceMongo, section)
	if err != nil {
		return StoreConfig{}, err
	}
	return StoreConfig{URI: settings["uri"], Name: settings["name"]}, nil
}
