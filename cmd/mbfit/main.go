// Command mbfit manages a many-body energy ledger and refines fits built
// from it.
package main

import (
	"context"
	"os"

	"github.com/roach88/mbfit/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
