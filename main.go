package main

import (
	"os"

	"github.com/ShoshinNikita/recipebox/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
