// filepath: cmd/jellyswarrm/main.go
package main

import "jellyswarrm/internal/cli"

func main() {
	cli.Execute()
}
