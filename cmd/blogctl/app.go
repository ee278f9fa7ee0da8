package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/sakif/blog/internal/apiclient"
	"github.com/sakif/blog/internal/apperror"
	"github.com/sakif/blog/internal/authclient"
	"github.com/sakif/blog/internal/comment"
	"github.com/sakif/blog/internal/commentapi"
	"github.com/sakif/blog/internal/live"
	"github.com/sakif/blog/internal/model"
	"github.com/sakif/blog/internal/notify"
	"github.com/sakif/blog/internal/session"
)

const defaultAPI = "http://localhost:8080"

// app is one blogctl process: one session store, one header, and a comment
// panel per post it touches.
type app struct {
	auth     *authclient.Client
	store    *session.Store
	header   *header
	comments *commentapi.Client
	notifier notify.Notifier
	logger   *slog.Logger

	in  *bufio.Reader
	out io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("blogctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }
	apiURL := fs.String("api", envOr("BLOGCTL_API", defaultAPI), "API base URL")
	sessionPath := fs.String("session", os.Getenv("BLOGCTL_SESSION"), "session file")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		return printUsage(stderr)
	}

	// Logs and toasts share stderr and are written from different goroutines.
	stderr = &lockedWriter{w: stderr}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	// Toasts are queued and printed by their own goroutine so a slow terminal
	// never holds up a panel. Under -v they are logged as well.
	var sink notify.Notifier = notify.NewWriterNotifier(stderr)
	if *verbose {
		term, logged := sink, notify.NewLogNotifier(logger)
		sink = notify.Func(func(n notify.Notification) {
			term.Notify(n)
			logged.Notify(n)
		})
	}
	toasts := notify.NewChanNotifier(16)
	defer showToasts(toasts, sink, logger)()

	if *sessionPath == "" {
		p, err := authclient.DefaultSessionPath()
		if err != nil {
			return err
		}
		*sessionPath = p
	}

	api := apiclient.New(*apiURL, nil, logger)
	a := &app{
		auth:     authclient.New(api, authclient.NewFileStore(*sessionPath), logger),
		comments: commentapi.New(api),
		notifier: toasts,
		logger:   logger,
		in:       bufio.NewReader(stdin),
		out:      stdout,
	}

	a.store = session.New(a.auth, logger)
	if err := a.store.Initialize(ctx); err != nil {
		return err
	}
	defer a.store.Close()

	a.header = newHeader()
	defer a.store.Subscribe(a.header.update)()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "signup":
		return a.signup(ctx, rest)
	case "login":
		return a.login(ctx, rest)
	case "logout":
		return a.logout(ctx)
	case "status":
		return a.status(ctx, rest)
	case "comments":
		return a.list(ctx, rest)
	case "comment":
		return a.post(ctx, rest)
	case "watch":
		return a.watch(ctx, rest)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		return printUsage(stderr)
	}
}

func (a *app) signup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password (prompted when empty)")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *email == "" {
		return errors.New("signup: -email is required")
	}
	pw, err := a.passwordOr(*password)
	if err != nil {
		return err
	}

	s, err := a.auth.SignUp(ctx, authclient.SignUpRequest{
		Email: *email, Password: pw, FirstName: *first, LastName: *last,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Welcome, %s.\n", model.DisplayName(s.Profile))
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password (prompted when empty)")
	provider := fs.String("provider", "", "github or google")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	var (
		s   *model.Session
		err error
	)
	switch {
	case *provider != "":
		fmt.Fprintf(a.out, "Open this URL in a browser and sign in:\n\n  %s\n\nThen paste the address of the page you land on: ",
			a.auth.OAuthURL(*provider))
		var redirect string
		if redirect, err = a.readLine(); err != nil {
			return err
		}
		s, err = a.auth.SignInWithRedirect(ctx, redirect)
	case *email != "":
		var pw string
		if pw, err = a.passwordOr(*password); err != nil {
			return err
		}
		s, err = a.auth.SignInWithPassword(ctx, *email, pw)
	default:
		return errors.New("login: -email or -provider is required")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s.\n", model.DisplayName(s.Profile))
	return nil
}

// logout signs out whatever session the auth client holds, even when the
// store never saw it as signed in (a refresh that failed at startup still
// leaves tokens worth revoking).
func (a *app) logout(ctx context.Context) error {
	if err := a.store.SignOut(ctx); err != nil {
		a.logger.Warn("sign-out failed", slog.String("error", err.Error()))
		a.notifier.Notify(notify.Notification{
			Kind:    notify.Error,
			Message: "Could not sign you out. Please try again.",
		})
		return errReported
	}
	a.notifier.Notify(notify.Notification{Kind: notify.Success, Message: "You have been signed out."})
	return nil
}

// status prints the header line. With -refresh it first renews the access
// token and reloads the profile; both changes reach the header through the
// store like any other auth event.
func (a *app) status(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	refresh := fs.Bool("refresh", false, "renew the access token and reload the profile")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *refresh && a.store.State() == session.StateSignedIn {
		if _, err := a.auth.Refresh(ctx); err != nil {
			return err
		}
		if _, err := a.auth.RefreshUser(ctx); err != nil {
			return err
		}
	}
	fmt.Fprintln(a.out, a.header.line())
	return nil
}

func (a *app) panel(postID string) *comment.Panel {
	return comment.NewPanel(postID, a.store, a.comments, a.notifier, a.logger)
}

func (a *app) list(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("comments: expected a post, e.g. blogctl comments hello-world")
	}
	p := a.panel(args[0])
	defer p.Close()

	state, err := p.Load(ctx)
	switch state {
	case comment.LoadFailed:
		return err
	case comment.LoadEmpty:
		fmt.Fprintln(a.out, "No comments yet. Be the first!")
		return nil
	}
	for _, c := range p.Comments() {
		printComment(a.out, c)
	}
	return err
}

func (a *app) post(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("comment: expected a post and some text, e.g. blogctl comment hello-world Great post!")
	}
	p := a.panel(args[0])
	defer p.Close()

	outcome, err := p.Submit(ctx, strings.Join(args[1:], " "))
	switch outcome {
	case comment.OutcomePosted:
		printComment(a.out, p.Comments()[0])
		return nil
	case comment.OutcomeInvalid:
		return err
	default:
		// The notifier already told the visitor; exit non-zero quietly.
		a.logger.Debug("comment not posted", slog.String("outcome", outcome.String()))
		return errReported
	}
}

func (a *app) watch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("watch: expected a post, e.g. blogctl watch hello-world")
	}
	fmt.Fprintf(a.out, "Watching %s for new comments (Ctrl+C to stop)...\n", args[0])
	return live.Watch(ctx, a.comments.LiveURL(args[0]), func(c model.Comment) {
		printComment(a.out, c)
	})
}

func printComment(w io.Writer, c model.Comment) {
	fmt.Fprintf(w, "%s · %s\n  %s\n\n",
		c.Author(),
		c.CreatedAt.Local().Format("2006-01-02 15:04"),
		strings.ReplaceAll(c.Content, "\n", "\n  "),
	)
}

func (a *app) passwordOr(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprint(a.out, "Password: ")
	pw, err := a.readLine()
	if err != nil {
		return "", err
	}
	if pw == "" {
		return "", apperror.ValidationFailed("password", "password is required")
	}
	return pw, nil
}

func (a *app) readLine() (string, error) {
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// showToasts prints queued toasts on sink until the returned function is
// called. That function prints whatever is still queued before returning.
func showToasts(toasts *notify.ChanNotifier, sink notify.Notifier, logger *slog.Logger) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case n := <-toasts.C():
				sink.Notify(n)
			case <-done:
				for {
					select {
					case n := <-toasts.C():
						sink.Notify(n)
					default:
						return
					}
				}
			}
		}
	}()

	return func() {
		close(done)
		<-finished
		if n := toasts.Dropped(); n > 0 {
			logger.Warn("notifications dropped", slog.Int("count", n))
		}
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// header is the "signed in as ..." island. It only ever learns about the
// session through its store subscription.
type header struct {
	mu      sync.Mutex
	session *model.Session
}

func newHeader() *header {
	return &header{}
}

func (h *header) update(s *model.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = s
}

func (h *header) line() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return "Not signed in."
	}
	name := model.DisplayName(h.session.Profile)
	if h.session.Email != "" {
		name += " <" + h.session.Email + ">"
	}
	return fmt.Sprintf("Signed in as %s (token valid until %s)",
		name, h.session.ExpiresAt.Local().Format("2006-01-02 15:04"))
}
