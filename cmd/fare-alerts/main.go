package main

import "fare-alerts/internal/cli"

func main() {
	cli.Execute()
}
