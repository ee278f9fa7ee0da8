// Command blogctl is a terminal front end for the blog's comments.
//
// Usage:
//
//	blogctl signup  -email you@example.com -password ... [-first Sakif -last Abdullah]
//	blogctl login   -email you@example.com -password ...
//	blogctl login   -provider github        (prints a URL; paste the page you land on)
//	blogctl logout
//	blogctl status  [-refresh]
//	blogctl comments <post>
//	blogctl comment  <post> <text...>
//	blogctl watch    <post>
//
// Environment (a .env file in the working directory is read too):
//
//	BLOGCTL_API      API base URL (default http://localhost:8080)
//	BLOGCTL_SESSION  session file (default ~/.config/blogctl/session.json)
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "blogctl:", err)
		}
		os.Exit(1)
	}
}

var (
	errUsage    = errors.New("usage")
	errReported = errors.New("already reported")
)

const usage = `usage: blogctl [-api URL] [-session FILE] [-v] <command> [args]

commands:
  signup    create an account and sign in
  login     sign in with email/password or an OAuth provider
  logout    sign out and revoke the session
  status    show who is signed in (-refresh renews the token and profile)
  comments  list a post's comments
  comment   post a comment
  watch     stream new comments on a post
`

func printUsage(w io.Writer) error {
	fmt.Fprint(w, usage)
	return errUsage
}
