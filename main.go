// The main package for the harvester executable.
package main

import (
	"github.com/JakeFAU/proxy-harvester/cmd"
)

func main() {
	cmd.Execute()
}
