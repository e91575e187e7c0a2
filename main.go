// The main package for the partswatch executable.
package main

import "github.com/partswatch/partswatch/cmd"

func main() {
	cmd.Execute()
}
