package main

import (
	"github.com/mkcommunity/registry/internal/cmd"
)

func main() {
	cmd.Execute()
}
