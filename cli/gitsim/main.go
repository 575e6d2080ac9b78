// Package main is the gitsim command itself.
package main

import (
	"log"
	"os"

	"github.com/gitsim/gitsim/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
