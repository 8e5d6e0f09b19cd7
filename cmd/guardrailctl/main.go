// Command guardrailctl inspects intent routing, fusion and answerability
// decisions offline, loads keyword indexes and tails the audit stream.
package main

import (
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
