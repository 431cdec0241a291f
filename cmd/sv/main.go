package main

import (
	"log"
	"statevault/cmd/sv/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}
