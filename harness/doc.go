// Package harness renders the per-language handlebars templates.
//
// runner.hbs becomes the entry point executed inside the container. It
// imports the user's generator module, calls it generate_cases times, checks
// the produced values against the declared types and prints the cases as a
// JSON array on its final output line. generator.hbs is the starter code
// offered to authors for a given signature.
//
// Both templates see the same context:
//
//	inputs          declared input types, e.g. ["int", "int"]
//	input_count     len(inputs)
//	output          declared output type
//	hidden_cases    number of hidden cases requested
//	visible_cases   number of visible cases requested
//	generate_cases  number of cases the harness must produce
//	user_module     module name of the submitted code ("gen")
package harness
