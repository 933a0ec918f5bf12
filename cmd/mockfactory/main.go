package main

import "github.com/afterdarksys/mockfactory/cmd/mockfactory/commands"

func main() {
	commands.Execute()
}
