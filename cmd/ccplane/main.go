package main

import "github.com/agusx1211/ccplane/internal/cli"

func main() {
	cli.Execute()
}
