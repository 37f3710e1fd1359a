package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/casegen/languages"
	"github.com/isdmx/casegen/sandbox"
)

// Request validation errors. Transports report these to the client as-is.
var (
	ErrZeroCases       = errors.New("skipping generation of 0 cases")
	ErrUnknownLanguage = errors.New("unknown language")
	ErrNotScripting    = errors.New("language is not a scripting language")
	ErrInvalidType     = errors.New("invalid type")
)

// IsValidation reports whether err was caused by a bad request rather than
// by the service.
func IsValidation(err error) bool {
	return errors.Is(err, ErrZeroCases) ||
		errors.Is(err, ErrUnknownLanguage) ||
		errors.Is(err, ErrNotScripting) ||
		errors.Is(err, ErrInvalidType)
}

// Renderer produces harness and scaffold sources.
type Renderer interface {
	Render(language string, req sandbox.ExecutionRequest) (string, error)
	Scaffold(language string, req sandbox.ExecutionRequest) (string, error)
}

// Executor runs a rendered harness.
type Executor interface {
	Execute(ctx context.Context, runner *sandbox.Runner, harness string, req sandbox.ExecutionRequest) (sandbox.Outcome, error)
}

// Runners looks up the runner of a language.
type Runners interface {
	Lookup(language string) (*sandbox.Runner, bool)
}

type Service struct {
	logger   *zap.Logger
	langs    *languages.Registry
	runners  Runners
	renderer Renderer
	executor Executor
}

func NewService(logger *zap.Logger, langs *languages.Registry, runners Runners, renderer Renderer, executor Executor) *Service {
	return &Service{
		logger:   logger,
		langs:    langs,
		runners:  runners,
		renderer: renderer,
		executor: executor,
	}
}

// Generate validates req, renders its harness and runs it. A *sandbox.Failure
// outcome is a normal result; errors are either validation errors or
// internal failures.
func (s *Service) Generate(ctx context.Context, req sandbox.ExecutionRequest) (sandbox.Outcome, error) {
	if req.GenerateCases == 0 {
		return nil, ErrZeroCases
	}

	if _, err := s.scriptingLanguage(req.Language); err != nil {
		return nil, err
	}
	if err := validateSignature(req.Inputs, req.Output); err != nil {
		return nil, err
	}

	runner, ok := s.runners.Lookup(req.Language)
	if !ok {
		return nil, fmt.Errorf("%w: no runner for `%s`", ErrUnknownLanguage, req.Language)
	}

	harness, err := s.renderer.Render(req.Language, req)
	if err != nil {
		return nil, fmt.Errorf("failed to render harness: %w", err)
	}

	logger := s.logger.With(
		zap.String("language", req.Language),
		zap.Uint16("generate_cases", req.GenerateCases),
	)
	logger.Info("Generating test cases", zap.Int("content_len", len(req.Content)))

	start := time.Now()
	outcome, err := s.executor.Execute(ctx, runner, harness, req)
	if err != nil {
		logger.Error("Generation failed",
			zap.String("kind", string(sandbox.KindOf(err))),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to run generator: %w", err)
	}

	switch o := outcome.(type) {
	case *sandbox.Success:
		logger.Info("Generation succeeded",
			zap.Int("cases", len(o.Cases)),
			zap.Duration("elapsed", time.Since(start)),
		)
	case *sandbox.Failure:
		logger.Info("Generator exited with failure",
			zap.Int("exit_code", o.ExitCode),
			zap.Int("stderr_len", len(o.Stderr)),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	return outcome, nil
}

// Languages lists every loaded language.
func (s *Service) Languages() []languages.LanguageInfo {
	return s.langs.All()
}

// Scaffold returns starter generator code for the given signature.
func (s *Service) Scaffold(language string, inputs []sandbox.TypeTag, output sandbox.TypeTag) (string, error) {
	if _, err := s.scriptingLanguage(language); err != nil {
		return "", err
	}
	if err := validateSignature(inputs, output); err != nil {
		return "", err
	}

	src, err := s.renderer.Scaffold(language, sandbox.ExecutionRequest{
		Language:      language,
		Inputs:        inputs,
		Output:        output,
		GenerateCases: 1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render scaffold: %w", err)
	}
	return src, nil
}

func (s *Service) scriptingLanguage(name string) (languages.LanguageInfo, error) {
	lang, ok := s.langs.Lookup(name)
	if !ok {
		return languages.LanguageInfo{}, fmt.Errorf("%w: `%s`", ErrUnknownLanguage, name)
	}
	if lang.Category != languages.Scripting {
		return languages.LanguageInfo{}, fmt.Errorf("%w: `%s`", ErrNotScripting, name)
	}
	return lang, nil
}

func validateSignature(inputs []sandbox.TypeTag, output sandbox.TypeTag) error {
	for i, tag := range inputs {
		if !tag.Valid() {
			return fmt.Errorf("%w: input %d has type %q", ErrInvalidType, i, tag)
		}
	}
	if !output.Valid() {
		return fmt.Errorf("%w: output has type %q", ErrInvalidType, output)
	}
	return nil
}
