package main

import "couple-cook-backend/cmd"

func main() {
	cmd.Run()
}
