package main

import "github.com/andresmejia3/outfit360/cmd"

func main() {
	cmd.Execute()
}
