package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/yourusername/gameinstall-go/api/handlers"
	"github.com/yourusername/gameinstall-go/internal/app"
)

var watchCmd = &cobra.Command{
	Use:   "watch [title]",
	Short: "Follow the progress of an install",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		return watchInstall(args[0])
	},
}

// wsURL turns the server URL into a websocket URL for path
func wsURL(path string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

// watchInstall prints progress frames until the engine ends or the user
// interrupts
func watchInstall(title string) error {
	target, err := wsURL("/api/v1/installs/" + url.PathEscape(title) + "/ws")
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	go func() {
		if _, ok := <-interrupt; ok {
			conn.Close()
		}
	}()

	for {
		var msg handlers.ProgressMessage
		if err := conn.ReadJSON(&msg); err != nil {
			fmt.Println()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("connection lost: %w", err)
			}
			return nil
		}

		switch {
		case msg.Progress != nil:
			p := msg.Progress
			line := fmt.Sprintf("%-13s %5.1f%%  %s", p.StateText, p.Percent, p.Text)
			if p.SpeedText != "" {
				line += "  " + p.SpeedText
			}
			if p.ETAText != "" {
				line += "  ETA " + p.ETAText
			}
			fmt.Printf("\r\033[K%s", line)

		case msg.Event != nil:
			ev := msg.Event
			switch ev.Type {
			case app.EventFinished:
				fmt.Printf("\n%s finished\n", ev.Title)
				return nil
			case app.EventCanceled:
				fmt.Printf("\n%s canceled\n", ev.Title)
				return nil
			case app.EventFailed:
				fmt.Println()
				return fmt.Errorf("%s failed: %s", ev.Title, ev.Error)
			case app.EventPaused:
				fmt.Printf("\r\033[K%s paused", ev.Title)
			}
		}
	}
}
