package main

import "github.com/vietddude/aiprocessor/internal/cli"

func main() {
	cli.Execute()
}
