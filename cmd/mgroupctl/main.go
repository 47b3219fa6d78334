// mgroupctl -- command-line and interactive shell client for mgroupd.
package main

import "github.com/mgroupd/mgroupd/cmd/mgroupctl/commands"

func main() {
	commands.Execute()
}
