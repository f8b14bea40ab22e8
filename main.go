package main

import "github.com/ekiva-dev/ember/cmd"

func main() {
	cmd.Execute()
}
