// The main package for the marketupdate executable.
package main

import (
	"github.com/JakeFAU/market-update/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
