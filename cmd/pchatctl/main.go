package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/gbrandao/pchat/internal/session"
	"github.com/gbrandao/pchat/internal/store"
)

const usage = `usage: pchatctl [--session name] <command> [args]

commands:
  conversations             list cached conversations
  messages <conv-id>        list cached messages for a conversation
  message <conv-id> <key>   show one message in full
  outbox                    list open outbox entries with retry state
`

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}

	db, err := store.Open(session.DBPath(sessionName))
	if err != nil {
		fatal(err)
	}
	defer func() { _ = db.Close() }()

	switch flag.Arg(0) {
	case "conversations":
		err = listConversations(db)
	case "messages":
		if flag.NArg() < 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = listMessages(db, flag.Arg(1))
	case "message":
		if flag.NArg() < 3 {
			flag.Usage()
			os.Exit(2)
		}
		err = showMessage(db, flag.Arg(1), flag.Arg(2))
	case "outbox":
		err = listOutbox(db)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func listConversations(db *store.DB) error {
	convs, err := db.ListConversations(100, 0)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tLAST MESSAGE\tPREVIEW")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Title, millis(c.LastMessageAt), c.LastMessagePreview)
	}
	return w.Flush()
}

func listMessages(db *store.DB, conversationID string) error {
	msgs, err := db.ListMessages(conversationID, 0, 100)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSENDER\tSTATE\tAT\tCONTENT")
	// Stored newest first; print oldest first.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.Key, m.SenderID, m.State, millis(m.CreatedAt), m.Content)
	}
	return w.Flush()
}

func showMessage(db *store.DB, conversationID, key string) error {
	m, err := db.GetMessageByKey(conversationID, key)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no message %s in conversation %s", key, conversationID)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "KEY\t%s\n", m.Key)
	fmt.Fprintf(w, "SERVER ID\t%s\n", m.ServerID)
	fmt.Fprintf(w, "LOCAL ID\t%s\n", m.LocalID)
	fmt.Fprintf(w, "SENDER\t%s\n", m.SenderID)
	fmt.Fprintf(w, "TYPE\t%s\n", m.MessageType)
	fmt.Fprintf(w, "STATE\t%s\n", m.State)
	fmt.Fprintf(w, "CREATED\t%s\n", millis(m.CreatedAt))
	fmt.Fprintf(w, "UPDATED\t%s\n", millis(m.UpdatedAt))
	fmt.Fprintf(w, "DELETED\t%s\n", millis(m.DeletedAt))
	fmt.Fprintf(w, "CONTENT\t%s\n", m.Content)
	return w.Flush()
}

func listOutbox(db *store.DB) error {
	entries, err := db.PendingOutbox("")
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LOCAL ID\tCONVERSATION\tRETRIES\tNEXT RETRY\tLAST ERROR")
	for _, e := range entries {
		next := "-"
		if e.NextRetryAt > 0 {
			next = millis(e.NextRetryAt)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", e.LocalID, e.ConversationID, e.RetryCount, next, e.LastError)
	}
	return w.Flush()
}

func millis(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.UnixMilli(ts).Local().Format("2006-01-02 15:04:05")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
