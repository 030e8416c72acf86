package main

import (
	"os"

	"chanwatch/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
