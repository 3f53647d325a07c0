package main

import (
	"os"

	"github.com/dl-alexandre/drivews/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
