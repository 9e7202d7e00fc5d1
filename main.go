package main

import "github.com/deploymenttheory/go-qdl/cmd"

func main() {
	cmd.Execute()
}
