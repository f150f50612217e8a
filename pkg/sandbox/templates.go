package sandbox

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Template describes how a sandbox is provisioned.
type Template struct {
	Name         string            `yaml:"-"`
	Image        string            `yaml:"image"`
	WorkDir      string            `yaml:"workdir"`
	PreviewPort  int               `yaml:"preview_port"`
	StartCommand string            `yaml:"start_command,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
}

// Templates is a registry of templates keyed by name.
type Templates struct {
	byName map[string]Template
}

type templatesFile struct {
	Templates map[string]Template `yaml:"templates"`
}

// DefaultTemplates returns the built-in registry.
func DefaultTemplates() *Templates {
	return &Templates{byName: map[string]Template{
		"sagarmatha-nextjs-test": {
			Name:         "sagarmatha-nextjs-test",
			Image:        "sagarmatha/nextjs-sandbox:latest",
			WorkDir:      "/home/user",
			PreviewPort:  3000,
			StartCommand: "npx next dev --turbopack -H 0.0.0.0",
			Env:          map[string]string{"NEXT_TELEMETRY_DISABLED": "1"},
		},
		"base": {
			Name:        "base",
			Image:       "node:21-slim",
			WorkDir:     "/home/user",
			PreviewPort: 3000,
		},
	}}
}

// LoadTemplates reads a YAML registry and layers it over the defaults.
//
//	templates:
//	  sagarmatha-nextjs-test:
//	    image: registry.local/nextjs:15
//	    workdir: /home/user
//	    preview_port: 3000
func LoadTemplates(path string) (*Templates, error) {
	registry := DefaultTemplates()
	if path == "" {
		return registry, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates file %s: %w", path, err)
	}

	var file templatesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse templates file %s: %w", path, err)
	}

	for name, tmpl := range file.Templates {
		if tmpl.Image == "" {
			return nil, fmt.Errorf("template %q: image is required", name)
		}
		if tmpl.WorkDir == "" {
			tmpl.WorkDir = "/home/user"
		}
		if tmpl.PreviewPort == 0 {
			tmpl.PreviewPort = 3000
		}
		tmpl.Name = name
		registry.byName[name] = tmpl
	}
	return registry, nil
}

// Get returns the named template.
func (t *Templates) Get(name string) (Template, error) {
	tmpl, ok := t.byName[name]
	if !ok {
		return Template{}, fmt.Errorf("unknown sandbox template %q", name)
	}
	return tmpl, nil
}

// Names returns the registered template names, sorted.
func (t *Templates) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (tmpl Template) envList() []string {
	env := make([]string, 0, len(tmpl.Env))
	for k, v := range tmpl.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
