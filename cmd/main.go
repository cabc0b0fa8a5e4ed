package main

import (
	"os"
)

func main() {
	if err := newRootCmd(buildApp).Execute(); err != nil {
		os.Exit(1)
	}
}
