package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/pairtalk/pairtalk/internal/app"
	"github.com/pairtalk/pairtalk/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	inviteFlag := flag.String("invite", "", "invite token to join a conversation")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fx.New(
		app.Module(app.Params{
			SessionName: sessionName,
			InviteToken: *inviteFlag,
		}),
		fx.NopLogger,
	).Run()
}
