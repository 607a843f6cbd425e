package main

import (
	"go-libgen-download/cmd/libgen-downloader/cmd"
)

func main() {
	// Execute the root command (defined in cmd/root.go)
	cmd.Execute()
}
