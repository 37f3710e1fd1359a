package languages

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	DockerfileName        = "Dockerfile"
	RunnerTemplateName    = "runner.hbs"
	GeneratorTemplateName = "generator.hbs"
	MetadataName          = "language.yaml"
)

// Category classifies how a language is executed.
type Category string

const (
	Scripting Category = "scripting"
	Compiled  Category = "compiled"
	Config    Category = "config"
	Markup    Category = "markup"
)

// ErrNoLanguages is returned when the languages dir holds no valid language.
var ErrNoLanguages = errors.New("no valid languages found")

// UnmarshalYAML accepts the category name in any case.
func (c *Category) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	switch cat := Category(strings.ToLower(strings.TrimSpace(raw))); cat {
	case Scripting, Compiled, Config, Markup:
		*c = cat
		return nil
	default:
		return fmt.Errorf("unknown language category %q", raw)
	}
}

// LanguageInfo is the static metadata of one language. Immutable after Load.
type LanguageInfo struct {
	Name      string   `yaml:"-" json:"name"`
	Category  Category `yaml:"category" json:"category"`
	Extension string   `yaml:"extension" json:"extension"`
	Dir       string   `yaml:"-" json:"-"`
}

func (l LanguageInfo) DockerfilePath() string {
	return filepath.Join(l.Dir, DockerfileName)
}

func (l LanguageInfo) RunnerTemplatePath() string {
	return filepath.Join(l.Dir, RunnerTemplateName)
}

func (l LanguageInfo) GeneratorTemplatePath() string {
	return filepath.Join(l.Dir, GeneratorTemplateName)
}

// Registry is the sorted, read-only set of loaded languages.
type Registry struct {
	langs  []LanguageInfo
	byName map[string]LanguageInfo
}

// Load scans dir and returns every valid language in it.
func Load(logger *zap.Logger, dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read languages dir %s: %w", dir, err)
	}

	var langs []LanguageInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info, err := loadLanguage(filepath.Join(dir, entry.Name()), entry.Name())
		if err != nil {
			logger.Warn("Skipping language directory",
				zap.String("language", entry.Name()),
				zap.Error(err),
			)
			continue
		}
		langs = append(langs, info)
	}

	if len(langs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoLanguages, dir)
	}

	return NewRegistry(langs...), nil
}

// NewRegistry builds a registry from already loaded languages. Later
// duplicates of a name are ignored.
func NewRegistry(langs ...LanguageInfo) *Registry {
	r := &Registry{byName: make(map[string]LanguageInfo, len(langs))}
	for _, l := range langs {
		if _, dup := r.byName[l.Name]; dup {
			continue
		}
		r.byName[l.Name] = l
		r.langs = append(r.langs, l)
	}
	sort.Slice(r.langs, func(i, j int) bool { return r.langs[i].Name < r.langs[j].Name })
	return r
}

func loadLanguage(dir, name string) (LanguageInfo, error) {
	for _, required := range []string{DockerfileName, GeneratorTemplateName, RunnerTemplateName, MetadataName} {
		st, err := os.Stat(filepath.Join(dir, required))
		if err != nil {
			return LanguageInfo{}, fmt.Errorf("missing %s: %w", required, err)
		}
		if !st.Mode().IsRegular() {
			return LanguageInfo{}, fmt.Errorf("%s is not a regular file", required)
		}
	}

	raw, err := os.ReadFile(filepath.Join(dir, MetadataName))
	if err != nil {
		return LanguageInfo{}, fmt.Errorf("failed to read %s: %w", MetadataName, err)
	}

	var info LanguageInfo
	if err := yaml.Unmarshal(raw, &info); err != nil {
		return LanguageInfo{}, fmt.Errorf("failed to parse %s: %w", MetadataName, err)
	}
	if info.Category == "" {
		return LanguageInfo{}, fmt.Errorf("%s: category is required", MetadataName)
	}
	info.Extension = strings.TrimPrefix(strings.TrimSpace(info.Extension), ".")
	if info.Extension == "" {
		return LanguageInfo{}, fmt.Errorf("%s: extension is required", MetadataName)
	}

	info.Name = name
	info.Dir = dir
	return info, nil
}

// All returns the languages sorted by name.
func (r *Registry) All() []LanguageInfo {
	out := make([]LanguageInfo, len(r.langs))
	copy(out, r.langs)
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.langs))
	for _, l := range r.langs {
		names = append(names, l.Name)
	}
	return names
}

func (r *Registry) Lookup(name string) (LanguageInfo, bool) {
	l, ok := r.byName[name]
	return l, ok
}

func (r *Registry) Len() int {
	return len(r.langs)
}
