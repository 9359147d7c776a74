// The main package for the scrapeflow executable.
package main

import (
	"github.com/JakeFAU/scrapeflow/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
