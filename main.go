// The main package for the posterwatch executable.
package main

import (
	"github.com/JakeFAU/posterwatch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
