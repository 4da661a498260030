package main

import "github.com/ValentinKolb/sedarpc/cmd"

func main() {
	cmd.Execute()
}
