// Package main is the entry point for the casegen server.
//
// casegen runs user-written test case generators in throwaway Docker
// containers on an internal network and returns the generated cases. At
// startup it loads the language directory, builds or reuses one image per
// language and removes containers left by a previous run. Requests arrive
// over the REST API or over MCP (stdio or streamable HTTP), chosen by
// server.transport.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
