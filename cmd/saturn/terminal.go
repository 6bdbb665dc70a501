package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spotty118/saturn"
)

// runTerminal is a minimal read-eval loop: read a line, stream the agent's
// run, print deltas as they arrive.
func runTerminal(ctx context.Context, a *app) error {
	fmt.Println("saturn ready. Type a message, or /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			if err := ctx.Err(); err != nil {
				return err
			}
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		}

		if err := streamTurn(ctx, a.agent, line); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

func streamTurn(ctx context.Context, agent *saturn.Agent, input string) error {
	ch := make(chan saturn.StreamEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			switch ev.Type {
			case saturn.EventTextDelta:
				fmt.Print(ev.Content)
			case saturn.EventToolCallStart:
				fmt.Printf("\n[tool %s]\n", ev.Name)
			case saturn.EventToolCallResult:
				fmt.Printf("[tool %s done in %s]\n", ev.Name, ev.Duration.Round(1e6))
			case saturn.EventComplete:
				fmt.Println()
			}
		}
	}()

	_, err := agent.ExecuteStream(ctx, input, ch)
	<-done
	return err
}
