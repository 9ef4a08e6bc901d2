package main

import (
	"Pixmux/cmd"
)

func main() {
	cmd.Execute()
}
