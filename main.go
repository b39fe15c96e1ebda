// The main package for the staffwatch executable.
package main

import (
	"github.com/ytakeda/staffwatch/cmd"
)

func main() {
	cmd.Execute()
}
