package main

import "github.com/chafiq1992/wagateway/cmd"

func main() {
	cmd.Execute()
}
