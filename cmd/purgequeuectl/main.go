/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

/*
	purgequeuectl is an interactive operator shell for a running
	purgequeued: status, drain/resume, and manual pushes, talking to the
	daemon's admin HTTP and websocket API.
*/
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/gorilla/websocket"
)

const newprompt = "\033[32mpurgequeuectl>\033[0m "
const resultprompt = "\033[31m=\033[0m "

type client struct {
	base string
	hc   *http.Client
}

func newClient(base string) *client {
	return &client{base: strings.TrimSuffix(base, "/"), hc: &http.Client{Timeout: 10 * time.Second}}
}

func (c *client) get(path string) (string, error) {
	resp, err := c.hc.Get(c.base + path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return string(b), nil
}

func (c *client) post(path string, body []byte) (string, error) {
	resp, err := c.hc.Post(c.base+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%s", strings.TrimSpace(string(b)))
	}
	return string(b), nil
}

func (c *client) watch() error {
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	fmt.Println("watching live status, Ctrl-C to stop")
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		fmt.Println(string(msg))
	}
}

func runCommand(c *client, cmd command) {
	switch cmd.verb {
	case "help":
		fmt.Println("commands: status, drain, resume, push <inode> <size> <primary_pool>, watch, quit")
	case "status":
		out, err := c.get("/status")
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Print(resultprompt)
		fmt.Println(out)
	case "drain":
		out, err := c.post("/drain", nil)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Print(out)
	case "resume":
		out, err := c.post("/resume", nil)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Print(out)
	case "push":
		if len(cmd.args) < 3 {
			fmt.Println("usage: push <inode_id> <size> <primary_pool>")
			return
		}
		doc := map[string]any{
			"inode_id":     atoi(cmd.args[0], 0),
			"size":         atoi(cmd.args[1], 0),
			"primary_pool": atoi(cmd.args[2], 1),
			"stripe_unit":  uint64(4 << 20),
			"stripe_count": uint32(1),
			"object_size":  uint64(4 << 20),
		}
		b, _ := json.Marshal(doc)
		out, err := c.post("/push", b)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Print(out)
	case "watch":
		if err := c.watch(); err != nil {
			fmt.Println("error:", err)
		}
	default:
		fmt.Printf("unrecognized command: %s (try 'help')\n", cmd.verb)
	}
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:7777", "purgequeued admin API base URL")
	flag.Parse()

	c := newClient(*addr)
	g := newCommandGrammar()

	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       ".purgequeuectl-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		cmd, perr := g.parse(line)
		if perr != nil {
			fmt.Println("error:", perr)
			continue
		}
		if cmd.verb == "quit" || cmd.verb == "exit" {
			break
		}

		// anti-panic func, same recover-and-continue shape scm/prompt.go
		// uses around Eval so one bad command never kills the shell.
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Println("panic:", r, string(debug.Stack()))
				}
			}()
			runCommand(c, cmd)
		}()
	}
}
