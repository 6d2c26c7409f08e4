// Package main is the entry point of hookctl.
package main

import "HookGuard/internal/cli"

// go build -ldflags "-X main.Version=x.y.z"
var Version string

func main() {
	if Version != "" {
		cli.Version = Version
	}
	cli.Execute()
}
