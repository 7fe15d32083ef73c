// The main package for the epaper executable.
package main

import (
	"github.com/JakeFAU/hk-epaper-ingest/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
