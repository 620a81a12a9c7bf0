// Command kern runs KERN rule sets and bytecode programs.
//
// Usage:
//
//	# Run a rule set to fixpoint, recording it
//	kern run --db kern.db ./rules
//
//	# Check a rule set without running it
//	kern validate ./rules
//
//	# Assemble and execute a program
//	kern asm ./prog.kasm
//	kern exec ./prog.kbc
//
//	# Inspect and re-execute recorded runs
//	kern trace --db kern.db --kind fired
//	kern replay --db kern.db
//
//	# Run scenario files
//	kern test ./scenarios
package main

import (
	"fmt"
	"os"

	"github.com/roach88/kern/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
