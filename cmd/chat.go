package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nebula-chat/internal/model"
	"nebula-chat/internal/service"
)

const chatHelp = `Start an interactive conversation with the assistant.

Lines are sent as user messages. Commands:
  /new              start a new conversation
  /open <id>        continue a stored conversation
  /list             list conversations
  /filter [k=v...]  show or set the context (chains=1,10 wallet=0x.. networks=mainnet)
  /attach <url>     send an image
  /sign <id>        sign the action card with that id (prefix is enough)
  /quit             exit

Ctrl-C stops a streaming answer; pressed while idle it exits.`

var openID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long:  chatHelp,
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&openID, "session", "", "open this conversation on start")
}

type repl struct {
	chat *service.ChatService
	out  io.Writer
}

func runChat(cmd *cobra.Command, args []string) error {
	store := openStore(cfg)
	defer store.Close()

	chat, w, err := newChatService(cfg, store)
	if err != nil {
		return err
	}
	if w != nil {
		chat.DeriveFilter(w.Address(), firstChain(chat.Filter()))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	r := &repl{chat: chat, out: cmd.OutOrStdout()}

	if openID != "" {
		if err := r.open(ctx, openID); err != nil {
			return err
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			if chat.Stop() {
				fmt.Fprintln(r.out, "\n"+mutedStyle.Render("(stopped)"))
				continue
			}
			cancel()
			return
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(r.out, "Type a message, /help for commands.")
	for {
		fmt.Fprint(r.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := r.handle(ctx, strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintln(r.out, errorStyle.Render("error: "+err.Error()))
			}
			if quit {
				return nil
			}
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
		return false, nil
	case "/new":
		if err := r.chat.NewConversation(); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "(new conversation)")
		return false, nil
	case "/open":
		if arg == "" {
			return false, errors.New("usage: /open <id>")
		}
		return false, r.open(ctx, arg)
	case "/list":
		printSessions(r.out, r.chat.ListSessions(ctx))
		return false, nil
	case "/filter":
		return false, r.filter(ctx, arg)
	case "/attach":
		if arg == "" {
			return false, errors.New("usage: /attach <url>")
		}
		return false, r.send(r.chat.Send(ctx, model.ImageContent(arg)))
	case "/sign":
		return false, r.sign(ctx, arg)
	}
	return false, r.send(r.chat.Send(ctx, model.TextContent(line)))
}

func (r *repl) open(ctx context.Context, id string) error {
	sess, err := r.chat.OpenSession(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "(opened %q)\n", sess.Title)
	for _, m := range r.chat.Messages() {
		printMessage(r.out, m)
	}
	return nil
}

func (r *repl) filter(ctx context.Context, arg string) error {
	if arg == "" {
		fmt.Fprintln(r.out, describeFilter(r.chat.Filter()))
		return nil
	}

	f := r.chat.Filter()
	for _, kv := range strings.Fields(arg) {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", kv)
		}
		switch key {
		case "chains":
			f.ChainIDs = nil
			if value != "" {
				f.ChainIDs = strings.Split(value, ",")
			}
		case "wallet":
			f.WalletAddress = value
		case "networks":
			f.Networks = model.Network(value)
		default:
			return fmt.Errorf("unknown filter key %q", key)
		}
	}
	if err := r.chat.SetFilter(ctx, f); err != nil {
		return err
	}
	fmt.Fprintln(r.out, describeFilter(r.chat.Filter()))
	return nil
}

func (r *repl) sign(ctx context.Context, prefix string) error {
	msg, err := r.findAction(prefix)
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "(signing %s)\n", shortID(msg.ID))
	report, err := r.chat.ExecuteAction(ctx, msg.ID)
	if err != nil {
		return err
	}
	if report == nil {
		fmt.Fprintln(r.out, "(confirmed)")
		return nil
	}
	fmt.Fprintf(r.out, "(confirmed %s on chain %d)\n", report.TxHash, report.ChainID)
	return r.send(r.chat.ReportAction(ctx, report))
}

func (r *repl) findAction(prefix string) (model.Message, error) {
	var found []model.Message
	for _, m := range r.chat.Messages() {
		if m.Kind == model.KindAction && (prefix == "" || strings.HasPrefix(m.ID, prefix)) {
			found = append(found, m)
		}
	}
	switch {
	case len(found) == 0:
		return model.Message{}, fmt.Errorf("no action matches %q", prefix)
	case prefix == "":
		// the latest card
		return found[len(found)-1], nil
	case len(found) > 1:
		return model.Message{}, fmt.Errorf("%d actions match %q", len(found), prefix)
	}
	return found[0], nil
}

func (r *repl) send(updates <-chan service.Update, errs <-chan error) error {
	streaming := false
	for u := range updates {
		streaming = printUpdate(r.out, u, streaming)
	}
	if streaming {
		fmt.Fprintln(r.out)
	}
	return <-errs
}

// printUpdate renders one update and reports whether an assistant line is
// still open.
func printUpdate(w io.Writer, u service.Update, open bool) bool {
	if u.Event == nil {
		if n := len(u.Messages); n > 0 && u.Messages[n-1].Kind == model.KindError {
			if open {
				fmt.Fprintln(w)
			}
			printMessage(w, u.Messages[n-1])
			return false
		}
		return open
	}

	switch u.Event.Type {
	case model.EventPresence:
		if !open {
			fmt.Fprintln(w, mutedStyle.Render("("+u.Event.Text+")"))
		}
		return open
	case model.EventDelta:
		if !open {
			fmt.Fprint(w, assistantStyle.Render("assistant:")+" ")
		}
		fmt.Fprint(w, u.Event.Text)
		return true
	case model.EventAction, model.EventImage:
		if open {
			fmt.Fprintln(w)
		}
		if n := len(u.Messages); n > 0 {
			printMessage(w, u.Messages[n-1])
		}
		return false
	case model.EventContext:
		if open {
			fmt.Fprintln(w)
		}
		if u.Event.Context != nil {
			fmt.Fprintln(w, mutedStyle.Render(describeFilter(*u.Event.Context)))
		}
		return false
	}
	return open
}

func printMessage(w io.Writer, m model.Message) {
	switch m.Kind {
	case model.KindUser:
		fmt.Fprintf(w, "%s %s\n", userStyle.Render("you:"), m.PlainText())
	case model.KindAssistant:
		fmt.Fprintf(w, "%s %s\n", assistantStyle.Render("assistant:"), m.Text)
	case model.KindError:
		fmt.Fprintln(w, errorStyle.Render("error: "+m.Text))
	case model.KindImage:
		fmt.Fprintf(w, "%s %s\n", mutedStyle.Render("image:"), m.PlainText())
	case model.KindAction:
		fmt.Fprintln(w, actionStyle.Render(fmt.Sprintf("action %s: %s", shortID(m.ID), describeAction(m.Action))))
	}
}

func describeAction(a *model.Action) string {
	if a == nil {
		return "?"
	}
	tx, ok := a.Params()
	if !ok {
		return string(a.Type)
	}
	if a.Swap != nil {
		return fmt.Sprintf("%s %s via %s on chain %d", a.Swap.Action, a.Swap.Intent.Amount, tx.To, tx.ChainID)
	}
	return fmt.Sprintf("send %s wei to %s on chain %d", tx.Value, tx.To, tx.ChainID)
}

func describeFilter(f model.ContextFilter) string {
	if f.IsZero() {
		return "(filter: none)"
	}
	var parts []string
	if len(f.ChainIDs) > 0 {
		parts = append(parts, "chains="+strings.Join(f.ChainIDs, ","))
	}
	if f.WalletAddress != "" {
		parts = append(parts, "wallet="+f.WalletAddress)
	}
	if f.Networks != "" {
		parts = append(parts, "networks="+string(f.Networks))
	}
	return "(filter: " + strings.Join(parts, " ") + ")"
}

func firstChain(f model.ContextFilter) int64 {
	for _, id := range f.ChainIDs {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			return n
		}
	}
	return 1
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
