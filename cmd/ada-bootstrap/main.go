package main

import (
	"os"

	"github.com/malbeclabs/ada/bootstrap/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
