package harness

import (
	"errors"
	"fmt"

	"github.com/aymerick/raymond"
	"go.uber.org/zap"

	"github.com/isdmx/casegen/languages"
	"github.com/isdmx/casegen/sandbox"
)

// UserModule is the module name the harness imports the submitted code as.
const UserModule = "gen"

var ErrNoTemplate = errors.New("no template for language")

type templates struct {
	runner    *raymond.Template
	generator *raymond.Template
}

// Renderer holds the parsed templates of every language. Safe for concurrent use.
type Renderer struct {
	logger    *zap.Logger
	templates map[string]templates
}

// New parses the runner and generator templates of every language once.
func New(logger *zap.Logger, langs *languages.Registry) (*Renderer, error) {
	r := &Renderer{
		logger:    logger,
		templates: make(map[string]templates, langs.Len()),
	}

	for _, lang := range langs.All() {
		runner, err := raymond.ParseFile(lang.RunnerTemplatePath())
		if err != nil {
			return nil, fmt.Errorf("failed to parse runner template for %s: %w", lang.Name, err)
		}
		generator, err := raymond.ParseFile(lang.GeneratorTemplatePath())
		if err != nil {
			return nil, fmt.Errorf("failed to parse generator template for %s: %w", lang.Name, err)
		}
		r.templates[lang.Name] = templates{runner: runner, generator: generator}
	}

	logger.Debug("Parsed harness templates", zap.Int("languages", len(r.templates)))
	return r, nil
}

// Render produces the harness source for language.
func (r *Renderer) Render(language string, req sandbox.ExecutionRequest) (string, error) {
	t, ok := r.templates[language]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoTemplate, language)
	}
	out, err := t.runner.Exec(templateContext(req))
	if err != nil {
		return "", fmt.Errorf("failed to render harness for %s: %w", language, err)
	}
	return out, nil
}

// Scaffold produces the starter generator code for language.
func (r *Renderer) Scaffold(language string, req sandbox.ExecutionRequest) (string, error) {
	t, ok := r.templates[language]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoTemplate, language)
	}
	out, err := t.generator.Exec(templateContext(req))
	if err != nil {
		return "", fmt.Errorf("failed to render generator scaffold for %s: %w", language, err)
	}
	return out, nil
}

func templateContext(req sandbox.ExecutionRequest) map[string]interface{} {
	inputs := make([]string, len(req.Inputs))
	for i, tag := range req.Inputs {
		inputs[i] = string(tag)
	}

	return map[string]interface{}{
		"inputs":         inputs,
		"input_count":    len(inputs),
		"output":         string(req.Output),
		"hidden_cases":   int(req.HiddenCases),
		"visible_cases":  int(req.VisibleCases),
		"generate_cases": int(req.GenerateCases),
		"user_module":    UserModule,
	}
}
