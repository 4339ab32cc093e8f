// Package descriptor reads the installed application's identity document.
package descriptor

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/adamancini/appupdater/internal/config"
	uerrors "github.com/adamancini/appupdater/internal/errors"
)

// Descriptor identifies the locally installed application.
type Descriptor struct {
	Name       string `xml:"app" yaml:"app" toml:"app" json:"app"`
	Version    string `xml:"version" yaml:"version" toml:"version" json:"version"`
	Platform   string `xml:"platform" yaml:"platform" toml:"platform" json:"platform"`
	Maintainer string `xml:"author" yaml:"author" toml:"author" json:"author"`
}

// Valid reports whether the descriptor can be used for a release lookup.
// A descriptor without a maintainer cannot be resolved against the registry.
func (d Descriptor) Valid() bool {
	return d.Maintainer != ""
}

// String returns "Name vVersion (Platform)".
func (d Descriptor) String() string {
	return fmt.Sprintf("%s v%s (%s)", d.Name, d.Version, d.Platform)
}

// Read loads the descriptor at path. Missing fields are left empty; a
// document that cannot be read or decoded returns a descriptor error.
func Read(path string) (Descriptor, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, uerrors.WithPath(uerrors.KindDescriptor, "read descriptor", path, err)
	}

	d, err := Parse(content, config.DetectFormat(path, content))
	if err != nil {
		return Descriptor{}, uerrors.WithPath(uerrors.KindDescriptor, "parse descriptor", path, err)
	}
	return d, nil
}

// Parse decodes a descriptor document in the given format and trims every
// field.
func Parse(content []byte, format config.Format) (Descriptor, error) {
	var d Descriptor

	switch format {
	case config.FormatXML:
		if err := xml.Unmarshal(content, &d); err != nil {
			return Descriptor{}, fmt.Errorf("XML parse error: %w", err)
		}
	case config.FormatYAML:
		if err := yaml.Unmarshal(content, &d); err != nil {
			return Descriptor{}, fmt.Errorf("YAML parse error: %w", err)
		}
	case config.FormatTOML:
		if err := toml.Unmarshal(content, &d); err != nil {
			return Descriptor{}, fmt.Errorf("TOML parse error: %w", err)
		}
	case config.FormatJSON:
		if err := json.Unmarshal(content, &d); err != nil {
			return Descriptor{}, fmt.Errorf("JSON parse error: %w", err)
		}
	default:
		return Descriptor{}, fmt.Errorf("unknown descriptor format")
	}

	d.Name = strings.TrimSpace(d.Name)
	d.Version = strings.TrimSpace(d.Version)
	d.Platform = strings.TrimSpace(d.Platform)
	d.Maintainer = strings.TrimSpace(d.Maintainer)
	return d, nil
}
