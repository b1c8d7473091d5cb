package main

import (
	"github.com/vector-10/compound-safe/internal/cli"
)

func main() {
	cli.Execute()
}
