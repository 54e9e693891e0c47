// The main package for the ingest-crawler executable.
package main

import (
	"github.com/JakeFAU/ingest-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
