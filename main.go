package main

import (
	"github.com/projectcoral/coral/cmd"

	// Compiled-in plugins register their factories via init.
	_ "github.com/projectcoral/coral/plugins/echo"
)

func main() {
	cmd.Execute()
}
