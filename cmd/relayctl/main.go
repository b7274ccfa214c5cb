package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/matheus3301/relay/internal/api"
	"github.com/matheus3301/relay/internal/model"
	"github.com/matheus3301/relay/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 15*time.Second, "request timeout")
	flag.Usage = printUsage
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := api.Dial(profile.SocketPath(profileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", profileName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		cmdWatch(ctx, c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "login", "signup":
		cmdLogin(ctx, c, args[0], args[1:], *jsonFlag)
	case "restore":
		if len(args) < 2 {
			usageError("usage: relayctl restore <token>")
		}
		resp, err := c.Restore(ctx, args[1])
		check(err)
		printSelf(resp, *jsonFlag)
	case "logout":
		check(c.Logout(ctx))
		fmt.Println("Logged out.")
	case "profile":
		cmdProfile(ctx, c, args[1:], *jsonFlag)
	case "reconnect":
		resp, err := c.Reconnect(ctx)
		check(err)
		if *jsonFlag {
			outputJSON(resp)
			return
		}
		fmt.Printf("Connected: %v\n", resp.Connected)
	case "contacts":
		cmdContacts(ctx, c, args[1:], *jsonFlag)
	case "open":
		contactID := ""
		if len(args) >= 2 {
			contactID = args[1]
		}
		resp, err := c.OpenConversation(ctx, contactID)
		check(err)
		printMessages(resp, *jsonFlag)
	case "messages":
		resp, err := c.ListMessages(ctx)
		check(err)
		printMessages(resp, *jsonFlag)
	case "send":
		cmdSend(ctx, c, args[1:], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: relayctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                         Show session status")
	fmt.Fprintln(os.Stderr, "  login --email E                Log in (password read from stdin)")
	fmt.Fprintln(os.Stderr, "  signup --email E --name N      Create an account")
	fmt.Fprintln(os.Stderr, "  restore <token>                Verify and install an existing token")
	fmt.Fprintln(os.Stderr, "  logout                         Clear the credential")
	fmt.Fprintln(os.Stderr, "  profile [--name N] [--bio B]   Show or update your profile")
	fmt.Fprintln(os.Stderr, "  reconnect                      Reopen the realtime channel")
	fmt.Fprintln(os.Stderr, "  contacts [--refresh]           List contacts")
	fmt.Fprintln(os.Stderr, "  open [contact-id]              Open a conversation (last one if omitted)")
	fmt.Fprintln(os.Stderr, "  messages                       Show the open conversation")
	fmt.Fprintln(os.Stderr, "  send [--to ID] <text>          Send a message")
	fmt.Fprintln(os.Stderr, "  watch [namespace...]           Stream daemon events")
}

func cmdStatus(ctx context.Context, c *api.Client, jsonOut bool) {
	resp, err := c.Status(ctx)
	check(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile:   %s\n", resp.Profile)
	fmt.Printf("State:     %s\n", resp.State)
	if resp.Self != nil {
		fmt.Printf("User:      %s <%s>\n", resp.Self.DisplayName(), resp.Self.Email)
	}
	fmt.Printf("Connected: %v\n", resp.Connected)
	fmt.Printf("Contacts:  %d (%d online)\n", resp.Contacts, resp.Online)
	if resp.Selected != "" {
		fmt.Printf("Open:      %s\n", resp.Selected)
	}
	if resp.Notice != nil {
		fmt.Printf("Notice:    [%s] %s\n", resp.Notice.Level, resp.Notice.Text)
	}
	fmt.Printf("Uptime:    %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
}

func cmdLogin(ctx context.Context, c *api.Client, mode string, args []string, jsonOut bool) {
	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	email := fs.String("email", "", "account email")
	name := fs.String("name", "", "full name (signup)")
	bio := fs.String("bio", "", "bio (signup)")
	_ = fs.Parse(args)

	if *email == "" {
		usageError("usage: relayctl " + mode + " --email <email>")
	}
	password := os.Getenv("RELAY_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		var err error
		password, err = readLine(os.Stdin)
		check(err)
	}

	resp, err := c.Login(ctx, &api.LoginRequest{
		Mode: mode,
		Credentials: model.Credentials{
			FullName: *name,
			Email:    *email,
			Password: password,
			Bio:      *bio,
		},
	})
	check(err)
	printSelf(resp, jsonOut)
}

func cmdProfile(ctx context.Context, c *api.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	name := fs.String("name", "", "new full name")
	bio := fs.String("bio", "", "new bio")
	pic := fs.String("pic", "", "new profile picture (URL or data URI)")
	_ = fs.Parse(args)

	update := model.ProfileUpdate{FullName: *name, Bio: *bio, ProfilePic: *pic}
	if update.Empty() {
		resp, err := c.Status(ctx)
		check(err)
		if resp.Self == nil {
			fatal(errors.New("not authenticated"))
		}
		printSelf(&api.SelfResponse{Self: *resp.Self}, jsonOut)
		return
	}
	resp, err := c.UpdateProfile(ctx, &api.UpdateProfileRequest{Update: update})
	check(err)
	printSelf(resp, jsonOut)
}

func cmdContacts(ctx context.Context, c *api.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("contacts", flag.ExitOnError)
	refresh := fs.Bool("refresh", false, "fetch the list from the server first")
	_ = fs.Parse(args)

	var (
		resp *api.ContactsResponse
		err  error
	)
	if *refresh {
		resp, err = c.RefreshContacts(ctx)
	} else {
		resp, err = c.ListContacts(ctx)
	}
	check(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Contacts) == 0 {
		fmt.Println("No contacts.")
		return
	}
	for _, ct := range resp.Contacts {
		marker := " "
		if ct.User.ID == resp.Selected {
			marker = ">"
		}
		online := ""
		if ct.Online {
			online = "online"
		}
		unseen := ""
		if ct.Unseen > 0 {
			unseen = fmt.Sprintf("(%d)", ct.Unseen)
		}
		fmt.Printf("%s %-26s %-24s %-6s %s\n", marker, ct.User.ID, ct.User.DisplayName(), online, unseen)
	}
}

func cmdSend(ctx context.Context, c *api.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.String("to", "", "contact id (defaults to the open conversation)")
	image := fs.String("image", "", "image as URL or data URI")
	_ = fs.Parse(args)

	draft := model.Draft{Text: strings.Join(fs.Args(), " "), Image: *image}
	if err := draft.Validate(); err != nil {
		fatal(err)
	}
	resp, err := c.SendMessage(ctx, &api.SendMessageRequest{ContactID: *to, Draft: draft})
	check(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Sent %s\n", resp.Message.ID)
}

func cmdWatch(ctx context.Context, c *api.Client, namespaces []string, jsonOut bool) {
	recv, err := c.WatchEvents(ctx, namespaces...)
	check(err)
	for {
		evt, err := recv.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			fatal(err)
		}
		if jsonOut {
			outputJSON(evt)
			continue
		}
		fmt.Printf("%s %-28s %s\n", evt.Timestamp.Format(time.TimeOnly), evt.Kind, string(evt.Payload))
	}
}

func printSelf(resp *api.SelfResponse, jsonOut bool) {
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("ID:    %s\n", resp.Self.ID)
	fmt.Printf("Name:  %s\n", resp.Self.DisplayName())
	fmt.Printf("Email: %s\n", resp.Self.Email)
	if resp.Self.Bio != "" {
		fmt.Printf("Bio:   %s\n", resp.Self.Bio)
	}
}

func printMessages(resp *api.MessagesResponse, jsonOut bool) {
	if jsonOut {
		outputJSON(resp)
		return
	}
	if resp.ContactID == "" {
		fmt.Println("No conversation open.")
		return
	}
	for _, m := range resp.Messages {
		dir := "<"
		if m.SenderID != resp.ContactID {
			dir = ">"
		}
		body := m.Text
		if m.Image != "" {
			body = strings.TrimSpace(body + " [image]")
		}
		seen := ""
		if m.Seen {
			seen = " ✓"
		}
		fmt.Printf("%s %s %s%s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), dir, body, seen)
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func check(err error) {
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func usageError(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
