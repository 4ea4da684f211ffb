package main

import (
	"os"

	"github.com/wegman-software/shp2pbf-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
