package main

import "webchat-service/internal/cli"

func main() {
	cli.Execute()
}
