// Package httpapi is the REST front end of the generator service.
//
//	POST /exec/gen    run a generator, body is an execution request
//	GET  /languages   loaded languages
//	GET  /healthz     liveness
//
// A generator that exits non-zero is a 200 response carrying the failure
// outcome. Request errors are 400 (404 for an unknown language) and every
// other error is a 500 with a generic message.
package httpapi
