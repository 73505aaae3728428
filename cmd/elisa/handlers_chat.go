package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/elisa/internal/broadcast"
	"github.com/haasonsaas/elisa/internal/config"
	"github.com/haasonsaas/elisa/internal/domain"
	"github.com/haasonsaas/elisa/internal/router"
)

// lineReader yields one line of input at a time. io.EOF ends the session.
type lineReader func() (string, error)

// runChat opens an interactive session against a locally wired engine.
func runChat(cmd *cobra.Command, configPath, userID, groupName string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Logging.Level = "warn"
	logger := newLogger(cfg.Logging, false)

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	var groupID int64
	if strings.TrimSpace(groupName) != "" {
		g, err := a.service.CreateGroup(ctx, userID, domain.CreateGroupInput{Name: groupName})
		if err != nil {
			return fmt.Errorf("create group: %w", err)
		}
		groupID = g.ID
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		read := func() (string, error) {
			if scanner.Scan() {
				return scanner.Text(), nil
			}
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return a.chatSession(ctx, read, cmd.OutOrStdout(), userID, groupID)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("terminal: %w", err)
	}
	defer func() { _ = term.Restore(fd, oldState) }()

	screen := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	t := term.NewTerminal(screen, "> ")
	if width, height, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(width, height)
	}
	return a.chatSession(ctx, t.ReadLine, t, userID, groupID)
}

// chatSession feeds lines to the engine until /quit or end of input.
func (a *app) chatSession(ctx context.Context, read lineReader, out io.Writer, userID string, groupID int64) error {
	where := "private thread"
	if groupID > 0 {
		where = fmt.Sprintf("group #%d", groupID)
	}
	fmt.Fprintf(out, "Chatting as %s in the %s. Type /quit to leave.\r\n", userID, where)

	for {
		line, err := read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		result, err := a.handleInbound(ctx, broadcast.Inbound{
			ID:         uuid.NewString(),
			UserID:     userID,
			GroupID:    groupID,
			AuthorName: userID,
			Text:       line,
		})
		if err != nil {
			fmt.Fprintf(out, "error: %v\r\n", err)
			continue
		}
		printResponse(out, a.cfg.Assistant.Name, result.(*router.Response))
	}
}

func printResponse(out io.Writer, name string, resp *router.Response) {
	if resp.Reply == "" && len(resp.Actions) == 0 {
		fmt.Fprintf(out, "  (%s)\r\n", resp.Route)
		return
	}
	if resp.Reply != "" {
		fmt.Fprintf(out, "%s: %s\r\n", name, strings.ReplaceAll(resp.Reply, "\n", "\r\n"))
	}
	for _, action := range resp.Actions {
		fmt.Fprintf(out, "  [%s #%d]\r\n", action.Type, action.ID)
	}
	for _, failure := range resp.ToolFailures {
		fmt.Fprintf(out, "  [%s failed: %s]\r\n", failure.Tool, failure.Error)
	}
}
