package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/taskhub/realtime/internal/config"
	"github.com/taskhub/realtime/internal/history"
	"github.com/taskhub/realtime/internal/models"
	"github.com/taskhub/realtime/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "chat-client",
	Short: "Terminal probe for the realtime chat session engine",
	RunE:  runChatClient,
}

var (
	flagRoom string
	flagUser string
	flagName string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagRoom, "room", "dev", "room to join")
	flags.StringVar(&flagUser, "user", "probe", "local user id")
	flags.StringVar(&flagName, "name", "Probe", "local display name")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute chat-client command")
	}
}

func runChatClient(cmd *cobra.Command, args []string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()
	self := models.Member{ID: flagUser, DisplayName: flagName}

	sess := session.New(session.Config{
		RelayURL:       fmt.Sprintf("%s?user_id=%s&user_name=%s", cfg.RelayWSURL, flagUser, flagName),
		Token:          cfg.Token,
		RoomID:         flagRoom,
		Self:           self,
		History:        history.NewClient(cfg.RelayHTTPURL, cfg.Token),
		Logger:         log.Logger,
		TypingExpiry:   cfg.TypingExpiry,
		ReconnectDelay: cfg.ReconnectDelay,
		HighlightFor:   cfg.HighlightFor,
		OnStateChange: func(st session.State) {
			log.Info().Stringer("state", st).Msg("connection")
		},
		OnMessage: func(msg models.ChatMessage) {
			fmt.Printf("[%s] %s: %s\n",
				msg.CreatedAt.Format("15:04:05"), msg.Sender.DisplayName, msg.Body)
		},
	})
	defer sess.Teardown()

	if err := sess.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	sess.SetVisibility(session.VisibilityOpen)

	// Lines from stdin become messages; a few slash commands poke the
	// rest of the engine for manual testing.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
				continue
			case line == "/typing":
				sess.EmitTyping()
			case line == "/who":
				count, members := sess.Presence()
				names := make([]string, 0, len(members))
				for _, m := range members {
					names = append(names, m.DisplayName)
				}
				fmt.Printf("online (%d): %s\n", count, strings.Join(names, ", "))
			case line == "/unread":
				fmt.Printf("unread: %d\n", sess.Unread())
			case strings.HasPrefix(line, "/reply "):
				parts := strings.SplitN(strings.TrimPrefix(line, "/reply "), " ", 2)
				if len(parts) != 2 {
					fmt.Println("usage: /reply <message-id> <body>")
					continue
				}
				if err := sess.SendMessage(parts[1], parts[0]); err != nil {
					log.Warn().Err(err).Msg("send failed")
				}
			default:
				if err := sess.SendMessage(line, ""); err != nil {
					log.Warn().Err(err).Msg("send failed")
				}
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")
	return nil
}
