package main

import "github.com/labcoat-dev/labcoat/internal/cli"

func main() {
	cli.Execute()
}
