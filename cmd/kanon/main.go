package main

import (
	"os"

	"kanon/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
