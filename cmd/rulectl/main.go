// Rulectl checks, tests and runs the rules of a YAML rule pack without a
// server.
//
// Usage:
//
//	# Load a pack and compile every rule
//	rulectl check ./packs/subscription
//
//	# Replay the test cases of every validated rule
//	rulectl test ./packs/subscription
//
//	# Execute one rule
//	rulectl run ./packs/subscription age-check --args '{"subscriber": {"birthdate": "1990-05-01"}}'
package main

func main() {
	Execute()
}
