package main

import "github.com/olekit/olekit/cmd/olekit/cmd"

func main() {
	cmd.Execute()
}
