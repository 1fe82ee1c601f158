// The main package for the netwatch executable.
package main

import (
	"github.com/JakeFAU/netwatch/cmd"
)

func main() {
	cmd.Execute()
}
