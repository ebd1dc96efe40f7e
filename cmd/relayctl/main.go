// relayctl is a terminal client: it joins a channel, prints what happens
// there and posts every stdin line as a message.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"

	"github.com/dkeye/relay/internal/client"
	"github.com/dkeye/relay/internal/protocol"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	fs := pflag.NewFlagSet("relayctl", pflag.ContinueOnError)
	url := fs.String("url", "ws://localhost:8010/api/ws", "relay websocket url")
	userID := fs.String("user-id", "", "user id to authenticate as")
	username := fs.String("username", "", "username to authenticate as")
	profile := fs.String("profile-url", "", "fetch identity from this endpoint when user-id is empty")
	channel := fs.String("channel", "", "channel id to join")
	retry := fs.Duration("retry", client.DefaultRetryDelay, "reconnect delay")
	retries := fs.Int("retries", client.DefaultMaxRetries, "reconnects per outage, -1 for unlimited")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("bad flags")
	}

	opts := client.Options{URL: *url, RetryDelay: *retry, MaxRetries: *retries}
	// Numeric ids go out as JSON numbers, anything else as strings.
	if *userID != "" {
		opts.Identity = &client.Identity{UserID: protocol.NumberID(*userID), Username: *username}
	}
	if *profile != "" {
		opts.Provider = client.HTTPIdentity{URL: *profile}
	}
	c := client.New(opts)
	ch := protocol.NumberID(*channel)

	c.OnStatus(func(s client.Status) {
		log.Info().Str("status", string(s)).Msg("connection")
	})
	c.On(protocol.EventAuthenticated, func(protocol.Envelope) {
		if ch.IsZero() {
			return
		}
		if err := c.Emit(protocol.EventJoinChannel, protocol.JoinChannel{ChannelID: ch}); err != nil {
			log.Warn().Err(err).Msg("join channel")
		}
	})
	for _, event := range []string{
		protocol.EventChannelMembers,
		protocol.EventUserJoinedChannel,
		protocol.EventUserLeftChannel,
		protocol.EventMessageReceived,
		protocol.EventUserStatusUpdate,
		protocol.EventError,
	} {
		c.On(event, func(env protocol.Envelope) {
			log.Info().Str("event", env.Type).RawJSON("data", orNull(env.Data)).Msg("recv")
		})
	}
	typing := client.NewTypingTracker()
	typing.Attach(c, func(_ protocol.ID, line string) {
		if line != "" {
			log.Info().Msg(line)
		}
	})

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := c.Run(ctx); err != nil {
			log.Error().Err(err).Msg("client stopped")
			cancel()
		}
	})
	if !ch.IsZero() {
		wg.Go(func() { readLines(ctx, c, ch) })
	}
	wg.Wait()
}

func readLines(ctx context.Context, c *client.Client, ch protocol.ID) {
	notifier := client.NewTypingNotifier(c, client.TypingTimeout)
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			_ = notifier.Keystroke(ch)
			data, _ := json.Marshal(map[string]string{"content": line})
			if err := c.Emit(protocol.EventNewMessage, protocol.NewMessage{ChannelID: ch, MessageData: data}); err != nil {
				log.Warn().Err(err).Msg("send message")
			}
			_ = notifier.Stop(ch)
		}
	}
}

func orNull(b json.RawMessage) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
