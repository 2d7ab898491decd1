package main

import (
	"log"

	"hive/cmd/hive/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}
