package main

import (
	"chat-sync/auth"
	"chat-sync/internal"
	"flag"
	"fmt"
	"os"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run prints an identity token signed with AUTH_SECRET, to be used as AUTH_TOKEN.
func run() error {
	uid := flag.String("uid", "", "user id, the token subject")
	name := flag.String("name", "", "display name given by the identity provider")
	flag.Parse()

	config, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	token, err := auth.NewTokens(config.AuthSecret, config.AuthTokenDuration).Generate(*uid, *name)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
