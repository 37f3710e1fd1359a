// Package languages discovers the supported languages on disk.
//
// Each language lives in its own directory under the configured languages
// dir and must contain a Dockerfile, runner.hbs, generator.hbs and a
// language.yaml describing its category and source file extension:
//
//	category: scripting
//	extension: py
//
// Directories missing any of these are skipped with a warning.
package languages
