// The main package for the jobharvest executable.
package main

import "github.com/JakeFAU/jobharvest/cmd"

func main() {
	cmd.Execute()
}
