// Package generator validates generation requests and runs them.
//
// It ties the language registry, the harness renderer and the sandbox
// together. Transports (MCP and REST) only ever talk to Service.
package generator
