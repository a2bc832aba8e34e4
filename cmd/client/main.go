// client is a terminal random chat client. It searches for a stranger,
// then relays stdin lines as messages. "/next" skips to another stranger,
// "/quit" leaves.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"randomchat/backend/internal/delivery"
	"randomchat/backend/internal/localization"
	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/syncclient"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		serverURL      string
		sessionID      string
		searchInterval time.Duration
		pollInterval   time.Duration
		lang           string
		verbose        bool
	)
	flagSet := pflag.NewFlagSet("client", pflag.ContinueOnError)
	flagSet.StringVarP(&serverURL, "server", "s", envOr("RANDOMCHAT_URL", "http://localhost:8080/api/v1"), "API base URL")
	flagSet.StringVar(&sessionID, "session", os.Getenv("RANDOMCHAT_SESSION"), "resume an existing session id")
	flagSet.DurationVar(&searchInterval, "search-interval", 2*time.Second, "how often to ask for a partner")
	flagSet.DurationVar(&pollInterval, "poll-interval", 2*time.Second, "history poll interval while push is down")
	flagSet.StringVar(&lang, "lang", envOr("RANDOMCHAT_LANG", localization.DefaultLanguage), "interface language (en, uk)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log delivery diagnostics to stderr")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := "error"
	if verbose {
		level = "debug"
	}
	log := logger.New(logger.Config{Level: level})
	ui := &terminal{tr: localization.Builtin(), lang: lang}

	api := syncclient.NewHTTPClient(serverURL)
	feed := syncclient.NewFeed(serverURL, api.Token)
	runner := delivery.NewRunner(5*time.Second, pollInterval, log)
	ctrl := syncclient.NewController(api, feed, runner, searchInterval, log)

	ctx := context.Background()
	user, err := ctrl.Start(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Println(ui.text("connected", user.ID, user.SessionID))
	fmt.Println(ui.text("help"))
	fmt.Println(ui.text("searching"))

	go ui.printUpdates(ctrl, user.ID)

	lines := make(chan string)
	go readLines(lines)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	fmt.Print("> ")
	for {
		select {
		case <-sigs:
			return ui.leave(ctrl)
		case line, ok := <-lines:
			if !ok {
				return ui.leave(ctrl)
			}
			switch line = strings.TrimSpace(line); line {
			case "":
			case "/quit":
				return ui.leave(ctrl)
			case "/next":
				if err := ctrl.Skip(ctx); err != nil {
					fmt.Printf("\r[!] %s\n", ui.text("error", err))
				}
				fmt.Printf("\r[*] %s\n", ui.text("searching"))
			default:
				if err := ctrl.Send(ctx, line); err != nil {
					fmt.Printf("\r[!] %s\n", ui.text("not_sent", err))
					if draft := ctrl.TakeDraft(); draft != "" {
						fmt.Printf("[!] %s\n", ui.text("draft", draft))
					}
				} else {
					fmt.Printf("[%s] [%s]: %s\n", time.Now().Format("15:04:05"), ui.text("me"), line)
				}
			}
			fmt.Print("> ")
		}
	}
}

// terminal renders controller output in the chosen language.
type terminal struct {
	tr   *localization.Localizer
	lang string
}

func (t *terminal) text(key string, args ...any) string {
	if len(args) == 0 {
		return t.tr.GetString(t.lang, key)
	}
	return t.tr.Sprintf(t.lang, key, args...)
}

func (t *terminal) printUpdates(ctrl *syncclient.Controller, self string) {
	for u := range ctrl.Updates() {
		var output string
		switch u.Kind {
		case syncclient.UpdateMatched:
			output = "[*] " + t.text("matched")
		case syncclient.UpdatePartnerLeft:
			output = "[*] " + t.text("partner_left")
		case syncclient.UpdateMessage:
			// Own messages are already echoed when sent.
			if u.Message.SenderID == self {
				continue
			}
			output = fmt.Sprintf("[%s] [%s]: %s", u.Message.SentAt.Local().Format("15:04:05"), t.text("stranger"), u.Message.MessageText)
		}
		fmt.Printf("\r%s\n> ", output)
	}
}

func readLines(out chan<- string) {
	defer close(out)
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			out <- line
		}
		if err != nil {
			return
		}
	}
}

func (t *terminal) leave(ctrl *syncclient.Controller) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fmt.Println("\r" + t.text("bye"))
	if err := ctrl.Close(ctx); err != nil {
		fmt.Fprintln(os.Stderr, t.text("cleanup_incomplete", err))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
