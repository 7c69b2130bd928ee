package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	campuslink "github.com/campuslink/campuslink-go"
	"github.com/spf13/cobra"
)

var (
	conversationsLimit int
	sendRESTOnly       bool
	watchKinds         []string
)

func init() {
	conversationsCmd.Flags().IntVar(&conversationsLimit, "limit", 20, "Maximum conversations to list")
	sendCmd.Flags().BoolVar(&sendRESTOnly, "rest", false, "Skip the realtime path and send over REST directly")
	watchCmd.Flags().StringSliceVar(&watchKinds, "kinds", []string{"message", "typing", "user_status", "read_receipt", "error"}, "Event kinds to print")

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(watchCmd)
}

// ============================================================================
// campuslink conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List your conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		list, err := client.Conversations().List(ctx, &campuslink.PageOptions{PageSize: conversationsLimit})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(list.Conversations) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, conv := range list.Conversations {
			name := conv.Name
			if name == "" {
				name = conv.Type
			}
			line := fmt.Sprintf("%6d  %-8s %s", conv.ID, conv.Type, name)
			if conv.UnreadCount > 0 {
				line += fmt.Sprintf("  (%d unread)", conv.UnreadCount)
			}
			if conv.LastMessage != nil {
				line += fmt.Sprintf("  — %s", truncate(conv.LastMessage.Content, 40))
			}
			fmt.Println(line)
		}
		return nil
	},
}

// ============================================================================
// campuslink send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text>",
	Short: "Send a message (realtime first, REST fallback)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation id %q", args[0])
		}
		text := args[1]

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if !sendRESTOnly {
			rt := getRealtimeClient()
			if err := rt.Connect(ctx); err == nil {
				defer rt.Disconnect()
				if rt.SendMessage(convID, text) {
					fmt.Println("Sent (realtime).")
					return nil
				}
			}
			fmt.Fprintln(os.Stderr, "Realtime unavailable, falling back to REST.")
		}

		client := getClient()
		msg, err := client.Messages().Send(ctx, convID, text)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		fmt.Printf("Sent (REST), message id %d.\n", msg.ID)
		return nil
	},
}

// ============================================================================
// campuslink watch
// ============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream realtime events to stdout",
	Long:  "Connect to the realtime endpoint and print incoming events until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt := getRealtimeClient()

		rt.OnConnected(func() { fmt.Println("* connected") })
		rt.OnDisconnected(func(code int, reason string) {
			fmt.Printf("* disconnected (%d %s)\n", code, reason)
		})
		rt.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Printf("* reconnecting, attempt %d in %s\n", attempt, delay)
		})
		rt.OnGaveUp(func() { fmt.Println("* gave up reconnecting") })

		for _, kind := range watchKinds {
			rt.Subscribe("watch", campuslink.EventKind(kind), printEvent)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := rt.Connect(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer rt.Disconnect()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println("* closing")
		return nil
	},
}

func printEvent(ev campuslink.Event) {
	ts := time.Now().Format("15:04:05")
	switch ev.Kind {
	case campuslink.KindMessage:
		m := ev.Message
		fmt.Printf("[%s] message conv=%d from=%d: %s\n", ts, m.ConversationID, m.SenderID, m.Content)
	case campuslink.KindTyping:
		t := ev.Typing
		verb := "stopped typing"
		if t.IsTyping {
			verb = "typing"
		}
		fmt.Printf("[%s] conv=%d user=%d %s\n", ts, t.ConversationID, t.UserID, verb)
	case campuslink.KindUserStatus:
		fmt.Printf("[%s] user=%d is %s\n", ts, ev.UserStatus.UserID, ev.UserStatus.Status)
	case campuslink.KindReadReceipt:
		fmt.Printf("[%s] conv=%d read by user=%d\n", ts, ev.ReadReceipt.ConversationID, ev.ReadReceipt.UserID)
	case campuslink.KindError:
		fmt.Printf("[%s] server error: %s\n", ts, ev.Err.Message)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
