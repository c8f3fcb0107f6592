// The main package for the pricefeed executable.
package main

import (
	"github.com/JakeFAU/pricefeed/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
