package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/barcodedrop/barcodedrop-server/internal/protocol"
)

var (
	watchPing  time.Duration
	watchQuiet bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <user>",
	Short: "Follow a user's scans live",
	Long: `Connect to the server's sync endpoint and print every message for the
user. A local copy of the scan list is kept and its size printed after each
message, the same way a phone client applies updates.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := watch(ctx, args[0]); err != nil && ctx.Err() == nil {
			fail("%v", err)
		}
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchPing, "ping", 30*time.Second, "Interval of application pings (0 disables)")
	watchCmd.Flags().BoolVarP(&watchQuiet, "quiet", "q", false, "Only print the scan count after each message")
}

// watchURL turns the http(s) server URL into the ws(s) watch URL.
func watchURL(user string) (string, error) {
	u, err := url.Parse(endpoint("/watch/" + url.PathEscape(user)))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

func watch(ctx context.Context, user string) error {
	target, err := watchURL(user)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	defer conn.CloseNow()

	fmt.Printf("watching %s at %s\n", user, target)

	if watchPing > 0 {
		go func() {
			ticker := time.NewTicker(watchPing)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := conn.Write(ctx, websocket.MessageText, []byte(protocol.PingText)); err != nil {
						return
					}
				}
			}
		}()
	}

	state := newScanList()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if string(data) == protocol.PongText {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping message: %v\n", err)
			continue
		}
		state.apply(msg)

		if !watchQuiet {
			printMessage(msg)
		}
		fmt.Printf("  %d scans\n", state.len())
	}
}

func printMessage(msg protocol.Message) {
	txn := msg.TxnID()
	if txn == "" {
		txn = "-"
	}
	fmt.Printf("%s %s txn=%s\n", time.Now().Format("15:04:05"), msg.MessageType(), txn)

	switch m := msg.(type) {
	case protocol.Upsert:
		for _, r := range m.Records {
			fmt.Printf("  + %s %q\n", r.ID, r.Barcode)
		}
	case protocol.DeleteOne:
		fmt.Printf("  - %s\n", m.ID)
	case protocol.DeleteMany:
		fmt.Printf("  - %s\n", strings.Join(m.IDs, ", "))
	}
}

// scanList is the client-side copy of one user's scans.
type scanList struct {
	byID map[string]protocol.Record
}

func newScanList() *scanList {
	return &scanList{byID: make(map[string]protocol.Record)}
}

func (l *scanList) apply(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Upsert:
		for _, r := range m.Records {
			l.byID[r.ID] = r
		}
	case protocol.DeleteOne:
		delete(l.byID, m.ID)
	case protocol.DeleteMany:
		for _, id := range m.IDs {
			delete(l.byID, id)
		}
	case protocol.ReplaceAll:
		clear(l.byID)
		for _, r := range m.Records {
			l.byID[r.ID] = r
		}
	}
}

func (l *scanList) len() int {
	return len(l.byID)
}

// ids returns the held ids, sorted.
func (l *scanList) ids() []string {
	ids := make([]string, 0, len(l.byID))
	for id := range l.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
