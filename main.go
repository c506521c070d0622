// The main package for the b3data executable.
package main

import (
	"github.com/JakeFAU/b3-market-data/cmd"
)

func main() {
	cmd.Execute()
}
