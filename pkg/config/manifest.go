package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/cmdkit/pkg/deploy"
)

// Manifest is the YAML description of one command deployment.
type Manifest struct {
	Name         string               `yaml:"name" json:"name"`
	Description  string               `yaml:"description" json:"description"`
	MainClass    string               `yaml:"main_class" json:"main_class"`
	Artifact     string               `yaml:"artifact" json:"artifact"`
	Version      string               `yaml:"version,omitempty" json:"version,omitempty"`
	Directory    string               `yaml:"directory,omitempty" json:"directory,omitempty"`
	ForceDeploy  bool                 `yaml:"force_deploy,omitempty" json:"force_deploy,omitempty"`
	TenantID     int64                `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	Jars         []string             `yaml:"jars,omitempty" json:"jars,omitempty"`
	Dependencies []ManifestDependency `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// ManifestDependency is one declared dependency of a Manifest.
type ManifestDependency struct {
	Name      string `yaml:"name" json:"name"`
	Version   string `yaml:"version,omitempty" json:"version,omitempty"`
	File      string `yaml:"file" json:"file"`
	Directory string `yaml:"directory,omitempty" json:"directory,omitempty"`
	Policy    string `yaml:"policy,omitempty" json:"policy,omitempty"`
}

const manifestSchemaURL = "https://cmdkit.schemas.local/manifest.schema.json"

const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "main_class", "artifact"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "main_class": {"type": "string", "minLength": 1},
    "artifact": {"type": "string", "minLength": 1},
    "version": {"type": "string", "pattern": "^([0-9]+(\\.[0-9]+)*)?$"},
    "directory": {"type": "string"},
    "force_deploy": {"type": "boolean"},
    "tenant_id": {"type": "integer", "minimum": 1},
    "jars": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "dependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "file"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "version": {"type": "string"},
          "file": {"type": "string", "minLength": 1},
          "directory": {"type": "string"},
          "policy": {"enum": ["", "simple", "last-version-check", "force"]}
        }
      }
    }
  }
}`

var compiledManifestSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(manifestSchemaURL, strings.NewReader(manifestSchema)); err != nil {
		panic(fmt.Sprintf("manifest schema load failed: %v", err))
	}
	return c.MustCompile(manifestSchemaURL)
}()

// LoadManifest reads and validates the manifest at path. A relative
// directory in the manifest is resolved against the manifest's location.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("load manifest %q: %w", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %q: %w", path, err)
	}
	base := filepath.Dir(path)
	if m.Directory == "" {
		m.Directory = base
	} else if !filepath.IsAbs(m.Directory) {
		m.Directory = filepath.Join(base, m.Directory)
	}
	for i := range m.Dependencies {
		d := &m.Dependencies[i]
		if d.Directory != "" && !filepath.IsAbs(d.Directory) {
			d.Directory = filepath.Join(base, d.Directory)
		}
	}
	return m, nil
}

// ParseManifest decodes a YAML manifest and validates it against the
// manifest schema.
func ParseManifest(data []byte) (*Manifest, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	// The schema validator expects JSON-decoded values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := compiledManifestSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("manifest validation failed: %w", err)
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Descriptor converts the manifest into a command descriptor.
func (m *Manifest) Descriptor() (*deploy.CommandDescriptor, error) {
	desc := &deploy.CommandDescriptor{
		Name:              m.Name,
		Description:       m.Description,
		MainClass:         m.MainClass,
		MainArtifact:      m.Artifact,
		MainVersion:       m.Version,
		ArtifactDirectory: m.Directory,
		ForceDeploy:       m.ForceDeploy,
		TenantID:          m.TenantID,
		DependencyJars:    append([]string(nil), m.Jars...),
	}
	for _, d := range m.Dependencies {
		policy, err := deploy.ParsePolicy(d.Policy)
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", d.Name, err)
		}
		desc.Dependencies = append(desc.Dependencies, deploy.DependencySpec{
			Name:              d.Name,
			Version:           d.Version,
			FileName:          d.File,
			ArtifactDirectory: d.Directory,
			Policy:            policy,
		})
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}
