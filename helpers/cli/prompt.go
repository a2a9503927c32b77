// Package cli runs the main loop of the interactive operator tools: a
// go-prompt session when stdin is a terminal, line-by-line execution of
// piped input otherwise.
package cli

import (
	"bufio"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

// MainLoop feeds input lines to exec until EOF or a termination signal.
// tag becomes the prompt prefix.
func MainLoop(tag string, exec func(line string), complete func(d prompt.Document) []prompt.Suggest) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		<-signalCh
		os.Exit(1)
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(exec, complete, prompt.OptionPrefix(tag+"> ")).Run()
		return
	}

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		exec(strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		log.Fatal(err)
	}
}
