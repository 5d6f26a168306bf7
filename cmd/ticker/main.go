package main

import (
	"os"

	"horse.fit/ticker/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
