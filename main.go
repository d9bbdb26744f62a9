package main

import (
	"github.com/lance13c/uimap/cmd"
)

var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
