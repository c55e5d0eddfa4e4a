package main

import "github.com/javi11/docvault/cmd/docvault/cmd"

func main() {
	cmd.Execute()
}
