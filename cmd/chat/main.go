// Command chat is a minimal terminal client: it logs in, opens one room and
// mirrors the live view to stdout while sending stdin lines as messages.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"chat-sync/client"
	"chat-sync/client/cache"
	"chat-sync/client/session"
	"chat-sync/internal/logging"
	"chat-sync/internal/models"
	"chat-sync/internal/utils"
)

func main() {
	var (
		server   = flag.String("server", utils.GetEnv("CHAT_SERVER", "http://localhost:3001"), "backend base URL")
		username = flag.String("user", "", "username")
		password = flag.String("pass", "", "password")
		room     = flag.String("room", "", "room ID to open")
		pageSize = flag.Int("page-size", 20, "history page size")
	)
	flag.Parse()

	logger := logging.New(utils.GetEnv("ENV", "development"))

	if *username == "" || *password == "" || *room == "" {
		fmt.Fprintln(os.Stderr, "usage: chat -user NAME -pass PASS -room ROOM [-server URL]")
		os.Exit(2)
	}

	ctx := context.Background()

	c := client.New(*server, logger)
	if err := c.Login(ctx, *username, *password); err != nil {
		logger.Fatal().Err(err).Msg("login failed")
	}

	configDir := filepath.Join(os.Getenv("HOME"), ".config", "chat-sync")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		logger.Fatal().Err(err).Msg("failed to create config directory")
	}
	store, err := cache.New(filepath.Join(configDir, "messages.db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open message cache")
	}
	defer store.Close()

	// Show whatever we have locally while the network catches up.
	if cached, err := store.Messages(*room, *pageSize); err == nil {
		for _, msg := range cached {
			printMessage(msg)
		}
	}

	sub, err := c.Subscribe(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("subscribe failed")
	}
	if err := sub.Join(*room); err != nil {
		logger.Fatal().Err(err).Msg("join failed")
	}

	sess := session.New(*room, c, session.Feed{
		Messages: sub.Messages,
		Statuses: sub.Statuses,
		Close:    sub.Close,
	}, session.Options{
		SelfID:   c.UserID(),
		SelfName: c.Username(),
		Cache:    store,
		Logger:   logger,
	})
	defer sess.Close()

	sess.LoadHistory(0, *pageSize)
	sess.MarkAllRead()

	go func() {
		for sig := range sess.Typing() {
			if sig.IsTyping {
				fmt.Printf("-- %s is typing...\n", sig.UserName)
			}
		}
	}()

	go func() {
		for state := range sess.States() {
			switch st := state.(type) {
			case session.LoadingHistory:
				fmt.Println("-- loading history...")
			case session.Ready:
				render(st)
			case session.Failed:
				fmt.Printf("!! %s failed: %s\n", st.Op, st.Reason)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		sub.SendTyping(*room, false)
		sess.Send(line, models.ContentText)
	}
}

func render(st session.Ready) {
	fmt.Print("\033[H\033[2J")
	for _, msg := range st.Messages {
		printMessage(msg)
	}
	if st.ReachedEnd {
		fmt.Println("-- start of conversation --")
	}
}

func printMessage(msg models.Message) {
	fmt.Printf("[%s] %s: %s (%s)\n",
		msg.SentAt.Format("15:04"), msg.SenderName, msg.Content, msg.Status)
}
