package main

import (
	"os"

	"github.com/benjaminbreen/premodern-concordance/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
