package main

import (
	"os"

	"geoduck/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
