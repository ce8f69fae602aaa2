package main

import (
	"os"

	"horse.fit/upkeep/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
