package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jwulff/smartsearch/internal/chat"
	"github.com/jwulff/smartsearch/internal/conversation"
	"github.com/jwulff/smartsearch/internal/typewriter"
	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask one question and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			conv := conversation.New(newAnswerer(e), e.store, conversation.WithLogger(e.log))
			return ask(cmd.Context(), cmd.OutOrStdout(), &conv, strings.Join(args, " "), e.cfg.TypewriterInterval)
		},
	}
}

// ask sends question through conv, which saves it to history, and types
// the reply out to w.
func ask(ctx context.Context, w io.Writer, conv *conversation.Controller, question string, interval time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	send := conv.Send(question)
	if send == nil {
		return errors.New("empty question")
	}
	conv.Update(send())

	reply, ok := chat.LastBotMessage(conv.Messages())
	if !ok {
		return errors.New("no reply")
	}

	for _, src := range reply.Sources {
		fmt.Fprintf(w, "[%d] %s (%s)\n    %s\n", src.ID, src.Title, src.Domain, src.URL)
	}
	if len(reply.Sources) > 0 {
		fmt.Fprintln(w)
	}

	written := 0
	for prefix := range typewriter.Stream(ctx, reply.Text, interval) {
		fmt.Fprint(w, prefix[written:])
		written = len(prefix)
	}
	fmt.Fprintln(w)
	if written < len(reply.Text) {
		return ctx.Err()
	}
	if reply.Text == conversation.ApologyText {
		return errors.New("request failed; see log for details")
	}
	return nil
}
