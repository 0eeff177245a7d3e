package main

import (
	"os"

	"github.com/leftmike/roomdb/cmd"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
