package main

import "github.com/codexola/codexola/internal/cmd"

func main() {
	cmd.Execute()
}
