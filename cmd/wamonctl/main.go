package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/crisari666/wamon/internal/bus"
	"github.com/crisari666/wamon/internal/config"
	"github.com/crisari666/wamon/internal/linker"
	"github.com/crisari666/wamon/internal/profile"
	"github.com/crisari666/wamon/internal/push"
	"github.com/crisari666/wamon/internal/rest"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	deletedFlag := flag.Bool("deleted", false, "include soft-deleted messages")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(profile.ConfigPath(name))
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "login":
		if len(args) != 3 {
			usageExit("wamonctl login <user> <password>")
		}
		cmdLogin(ctx, cfg, name, args[1], args[2])
	case "sessions":
		cmdSessions(ctx, cfg, *jsonFlag)
	case "chats":
		if len(args) != 2 {
			usageExit("wamonctl chats <sessionId>")
		}
		cmdChats(ctx, cfg, args[1], *jsonFlag)
	case "messages":
		if len(args) != 3 {
			usageExit("wamonctl messages <sessionId> <chatId>")
		}
		cmdMessages(ctx, cfg, args[1], args[2], *deletedFlag, *jsonFlag)
	case "alerts":
		if len(args) < 2 || len(args) > 3 {
			usageExit("wamonctl alerts <sessionId> [chatId]")
		}
		chatID := ""
		if len(args) == 3 {
			chatID = args[2]
		}
		cmdAlerts(ctx, cfg, args[1], chatID, *jsonFlag)
	case "read":
		if len(args) != 2 {
			usageExit("wamonctl read <alertId>")
		}
		cmdMarkRead(ctx, cfg, args[1])
	case "link":
		if len(args) < 2 || len(args) > 3 {
			usageExit("wamonctl link <sessionId> [refId]")
		}
		refID := ""
		if len(args) == 3 {
			refID = args[2]
		}
		cmdLink(cfg, name, args[1], refID)
	case "destroy":
		if len(args) != 2 {
			usageExit("wamonctl destroy <sessionId>")
		}
		cmdDestroy(ctx, cfg, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wamonctl [--profile <name>] [--json] [--deleted] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login <user> <password>          Log in and store the token")
	fmt.Fprintln(os.Stderr, "  sessions                         List sessions")
	fmt.Fprintln(os.Stderr, "  chats <sessionId>                List chats of a session")
	fmt.Fprintln(os.Stderr, "  messages <sessionId> <chatId>    List messages of a chat")
	fmt.Fprintln(os.Stderr, "  alerts <sessionId> [chatId]      List alerts")
	fmt.Fprintln(os.Stderr, "  read <alertId>                   Mark an alert as read")
	fmt.Fprintln(os.Stderr, "  link <sessionId> [refId]         Link a session via QR code")
	fmt.Fprintln(os.Stderr, "  destroy <sessionId>              Destroy a session server-side")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func usageExit(usage string) {
	fmt.Fprintln(os.Stderr, "usage: "+usage)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func cmdLogin(ctx context.Context, cfg *config.Config, name, user, password string) {
	c := rest.New(cfg.APIURL, "")
	res, err := c.Login(ctx, user, password)
	if err != nil {
		fatal(err)
	}
	cfg.Token = res.Token
	if err := config.Save(profile.ConfigPath(name), cfg); err != nil {
		fatal(err)
	}
	fmt.Printf("Logged in as %s\n", res.User)
}

func cmdSessions(ctx context.Context, cfg *config.Config, jsonOut bool) {
	c := rest.New(cfg.WhatsappURL, cfg.Token)
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(sessions)
		return
	}
	for _, s := range sessions {
		fmt.Printf("%-24s %-14s ref=%s\n", s.SessionID, s.Status, s.RefID)
	}
}

func cmdChats(ctx context.Context, cfg *config.Config, sessionID string, jsonOut bool) {
	c := rest.New(cfg.WhatsappURL, cfg.Token)
	chats, err := c.ListChats(ctx, sessionID)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(chats)
		return
	}
	for _, chat := range chats {
		marker := " "
		if chat.Deleted {
			marker = "D"
		}
		fmt.Printf("%s %-28s %-20s %s\n", marker, chat.ChatID, chat.Name, chat.LastMessage)
	}
}

func cmdMessages(ctx context.Context, cfg *config.Config, sessionID, chatID string, includeDeleted, jsonOut bool) {
	c := rest.New(cfg.WhatsappURL, cfg.Token)
	msgs, err := c.ListMessages(ctx, sessionID, chatID, includeDeleted)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		dir := "<-"
		if m.FromMe {
			dir = "->"
		}
		body := m.Body
		if m.IsDeleted {
			body = "[deleted] " + body
		}
		if len(m.Edition) > 0 {
			body = fmt.Sprintf("%s (edited %dx)", body, len(m.Edition))
		}
		fmt.Printf("%s %s %s\n", time.UnixMilli(m.Timestamp).Format(time.RFC3339), dir, body)
	}
}

func cmdAlerts(ctx context.Context, cfg *config.Config, sessionID, chatID string, jsonOut bool) {
	c := rest.New(cfg.ConversationURL, cfg.Token)
	alerts, err := c.ListAlerts(ctx, sessionID, chatID)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(alerts)
		return
	}
	for _, a := range alerts {
		read := "unread"
		if a.IsRead {
			read = "read"
		}
		fmt.Printf("%-26s %-16s %-8s chat=%s\n", a.ID, a.Type, read, a.ChatID)
	}
}

func cmdMarkRead(ctx context.Context, cfg *config.Config, alertID string) {
	c := rest.New(cfg.ConversationURL, cfg.Token)
	if err := c.MarkAlertRead(ctx, alertID); err != nil {
		fatal(err)
	}
	fmt.Println("Alert marked as read.")
}

func cmdDestroy(ctx context.Context, cfg *config.Config, sessionID string) {
	c := rest.New(cfg.WhatsappURL, cfg.Token)
	if err := c.DestroySession(ctx, sessionID); err != nil {
		fatal(err)
	}
	fmt.Printf("Session %s destroyed.\n", sessionID)
}

// cmdLink connects its own push channel: the QR only ever arrives in the
// session room, so the flow needs a live subscription before the sync starts.
func cmdLink(cfg *config.Config, name, sessionID, refID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logger := zap.NewNop()
	machine := push.NewMachine(bus.New())
	client := push.New(cfg.PushURL, cfg.Token, machine, logger)
	if err := client.Connect(ctx); err != nil {
		fatal(err)
	}
	defer func() { _ = client.Close() }()

	wa := rest.New(cfg.WhatsappURL, cfg.Token)
	l := linker.New(client, wa, profile.QRDir(name), logger)
	l.OnQR = func(path string) {
		fmt.Printf("Scan the QR code: %s\n", path)
	}

	fmt.Printf("Linking session %s...\n", sessionID)
	session, err := l.Link(ctx, sessionID, refID)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Session %s is %s.\n", session.SessionID, session.Status)
}
