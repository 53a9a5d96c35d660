// Command safegate is a pre-execution safety gate for shell commands proposed
// by an AI coding agent.
package main

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	Execute()
}
