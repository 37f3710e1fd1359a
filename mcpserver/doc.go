// Package mcpserver exposes test case generation over the Model Context Protocol.
//
// Tools:
//
//	generate_test_cases  run a generator and return its outcome as JSON
//	list_languages       list the loaded languages
//	generator_template   starter generator code for a signature
//
// The server supports both stdio and streamable HTTP transports as
// configured by server.transport.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, generatorService)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
