package main

import "github.com/vietddude/warden/internal/cli"

func main() {
	cli.Execute()
}
