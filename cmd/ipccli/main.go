package main

import (
	"github.com/robotalks/ardlink/pkg/cli/sh"
	"github.com/robotalks/ardlink/pkg/env"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
