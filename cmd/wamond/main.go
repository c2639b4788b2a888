package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/crisari666/wamon/internal/daemon"
	"github.com/crisari666/wamon/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	viewFlag := flag.String("view", "", "selection to restore, e.g. session=<id>&chat=<id>")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, View: *viewFlag}),
	)

	app.Run()
}
