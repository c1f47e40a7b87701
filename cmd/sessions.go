package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"nebula-chat/internal/model"
	"nebula-chat/internal/service"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"s"},
	Short:   "Manage stored conversations",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, newest first",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error {
		chat, closeStore, err := sessionsChat()
		if err != nil {
			return err
		}
		defer closeStore()

		printSessions(cmd.OutOrStdout(), chat.ListSessions(cmd.Context()))
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a conversation transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error {
		chat, closeStore, err := sessionsChat()
		if err != nil {
			return err
		}
		defer closeStore()

		sess, err := chat.OpenSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render(sess.Title))
		fmt.Fprintln(out, mutedStyle.Render(describeFilter(sess.Filter())))
		for _, m := range chat.Messages() {
			printMessage(out, m)
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error {
		chat, closeStore, err := sessionsChat()
		if err != nil {
			return err
		}
		defer closeStore()

		if err := chat.DeleteSession(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every conversation",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error {
		chat, closeStore, err := sessionsChat()
		if err != nil {
			return err
		}
		defer closeStore()

		n, err := chat.ClearSessions(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d conversation(s)\n", n)
		return err
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd, sessionsClearCmd)
}

func sessionsChat() (*service.ChatService, func(), error) {
	store := openStore(cfg)
	chat, _, err := newChatService(cfg, store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return chat, func() { store.Close() }, nil
}

func printSessions(w io.Writer, sessions []*model.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("(no conversations)"))
		return
	}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{s.ID, s.Title, s.UpdatedAt.Local().Format(time.DateTime)})
	}
	fmt.Fprint(w, renderTable([]string{"ID", "TITLE", "UPDATED"}, rows))
}
