// The main package for the savereelify executable.
package main

import "github.com/Ashwin-z/savereelify.com/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
