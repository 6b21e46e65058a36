package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd(newApp(os.Stdout, os.Stderr, os.Stdin)).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
