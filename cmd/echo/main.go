package main

import "github.com/Siddharth-777/ECHO/internal/commands"

func main() {
	commands.Execute()
}
