// steward — governance core for semi-autonomous agent commands.
package main

import "github.com/steward-sh/steward/internal/cli"

func main() {
	cli.Execute()
}
