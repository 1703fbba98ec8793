package main

import "github.com/AdalynJs/nucypher/cmd/nkms-cli/cmd"

func main() {
	cmd.Execute()
}
