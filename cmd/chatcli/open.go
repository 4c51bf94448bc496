package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"carelink/internal/domain/entity"
	"carelink/pkg/chatclient"
)

func openCmd() *cobra.Command {
	var direct, appointment string

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a conversation and chat from stdin",
		Long: "Prints the conversation as it changes and sends each stdin line as a message.\n" +
			"Commands: /retry <temp-id>, /read, /quit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (direct == "") == (appointment == "") {
				return fmt.Errorf("exactly one of --direct or --appointment is required")
			}
			if token == "" || participantID == "" {
				return fmt.Errorf("--token and --as are required")
			}
			return runOpen(cmd.OutOrStdout(), direct, appointment)
		},
	}

	cmd.Flags().StringVar(&direct, "direct", "", "participant id of the counterpart")
	cmd.Flags().StringVar(&appointment, "appointment", "", "appointment id")
	return cmd
}

func unreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Print unread counts per conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			api := chatclient.NewHTTPFallback(serverURL, token, 10*time.Second)
			summary, err := api.UnreadSummary(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for conversationID, n := range summary.ByConversation {
				fmt.Fprintf(out, "%-48s %d\n", conversationID, n)
			}
			fmt.Fprintf(out, "%-48s %d\n", "total", summary.Total)
			return nil
		},
	}
}

func runOpen(out io.Writer, direct, appointment string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer, err := chatclient.NewWSDialer(serverURL, token, chatclient.DefaultHandshakeTimeout)
	if err != nil {
		return err
	}
	api := chatclient.NewHTTPFallback(serverURL, token, chatclient.DefaultSendTimeout)
	self := entity.Identity{ParticipantID: participantID, Role: role}

	engine := chatclient.NewEngine(self, dialer, api, chatclient.Config{})
	go engine.Run(ctx)

	var conv *entity.Conversation
	if direct != "" {
		conv, err = engine.OpenDirect(ctx, direct)
	} else {
		conv, err = engine.OpenAppointment(ctx, appointment)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "-- %s (%s, %s)\n", conv.ID, conv.Kind, conv.Status)

	view := &view{out: out, engine: engine, conversationID: conv.ID, printed: make(map[string]chatclient.Status)}
	lines := readLines(ctx, os.Stdin)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case id := <-engine.Changes():
			if id == "" || id == conv.ID {
				view.render(ctx)
			}

		case <-ticker.C:
			// Typing expires without an event.
			view.renderTyping(ctx)

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done, err := view.handleInput(ctx, line); done || err != nil {
				return err
			}
		}
	}
}

func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
