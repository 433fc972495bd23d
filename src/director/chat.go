package director

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Chat reads one message per line from in and writes each reply to out until
// in is exhausted, ctx ends or the user types "exit" or "quit".
func (d *Director) Chat(ctx context.Context, in io.Reader, out io.Writer, sessionID, userID string) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if _, err := fmt.Fprint(out, "> "); err != nil {
			return err
		}
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		reply, err := d.Respond(ctx, sessionID, userID, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		for _, call := range reply.ToolCalls {
			status := "ok"
			if !call.Result.Success {
				status = call.Result.Error
			}
			fmt.Fprintf(out, "[%s] %s\n", call.Name, status)
		}
		fmt.Fprintln(out, reply.Text)
	}
}
