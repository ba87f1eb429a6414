package main

import (
	"context"
	"os"

	"photobooth/internal/cli"

	"github.com/charmbracelet/fang"
)

var version = "0.1.0"

func main() {
	cli.Version = version
	root := cli.NewRoot()
	cmd := cli.NewRootCmd(root)

	err := fang.Execute(
		context.Background(),
		cmd,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	)
	root.Close()
	if err != nil {
		os.Exit(1)
	}
}
