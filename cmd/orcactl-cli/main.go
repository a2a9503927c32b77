package main

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"

	"github.com/wlansys/orcactl/ap"
	"github.com/wlansys/orcactl/helpers/cli"
	"github.com/wlansys/orcactl/log2"
	"github.com/wlansys/orcactl/orca"
)

const usage = `syntax: commands separated by whitespace
(main)
- @LINE        transmit LINE verbatim, e.g. @phy0;start;txs
- start=EV,..  enable monitor events on all radios
- stop=EV,..   disable monitor events on all radios
- radios       list radios
- stations     list stations
- rates=MAC    list supported rates of a station
- sN           pause N milliseconds

(meta)
- log=yes  enable debug logging (prints the event stream)
- log=no   disable debug logging
- help     show this text
`

var log = log2.NewStderr(log2.LInfo)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagAddr := cmdline.String("addr", "", "access point host:port")
	flagName := cmdline.String("name", "ap", "access point name in logs")
	flagDebug := cmdline.Bool("debug", false, "")
	cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)
	if *flagDebug {
		log.SetLevel(log2.LDebug)
	}
	if *flagAddr == "" {
		log.Fatal("-addr is required")
	}

	a := ap.New(*flagName, *flagAddr, log)
	a.SetConnecting()
	conn, err := orca.Dial(a.Addr, orca.ConnOptions{Log: log})
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	a.AttachConn(conn)
	go readLoop(a, conn)

	cli.MainLoop("orcactl-cli", newExecutor(a), newCompleter())
}

// readLoop absorbs the header and keeps the device model current while
// the operator types commands.
func readLoop(a *ap.AccessPoint, conn *orca.Conn) {
	for {
		line, err := conn.ReadLine(orca.DefaultNetworkTimeout)
		if err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		if a.State() == ap.StateBootstrap {
			if orca.ClassifyHeader(line) != orca.HeaderUnknown {
				if err := a.ApplyHeaderLine(line); err != nil {
					log.Errorf("header %q: %v", line, err)
					if orca.IsUnsupportedVersion(err) {
						os.Exit(1)
					}
				}
				continue
			}
			a.SetStreaming()
			log.Infof("%s: streaming radios=%v stations=%d", a, a.RadioNames(), len(a.ActiveStations()))
		}
		log.Debugf("< %s", line)
		if ev, ok := orca.Parse(line, a.Gate()); ok {
			a.HandleEvent(ev)
		}
	}
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		prompt.Suggest{Text: "@", Description: "transmit line verbatim"},
		prompt.Suggest{Text: "start=", Description: "enable monitor events"},
		prompt.Suggest{Text: "stop=", Description: "disable monitor events"},
		prompt.Suggest{Text: "radios", Description: "list radios"},
		prompt.Suggest{Text: "stations", Description: "list stations"},
		prompt.Suggest{Text: "rates=", Description: "list supported rates of MAC"},
		prompt.Suggest{Text: "log=yes", Description: "print the event stream"},
		prompt.Suggest{Text: "log=no", Description: "quiet"},
		prompt.Suggest{Text: "help", Description: "show usage"},
	}

	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(a *ap.AccessPoint) func(string) {
	return func(line string) {
		for _, word := range strings.Fields(line) {
			if err := execWord(a, word); err != nil {
				log.Errorf("%s", errors.ErrorStack(err))
				return
			}
		}
	}
}

func execWord(a *ap.AccessPoint, word string) error {
	switch {
	case word == "" || word == "help":
		log.Infof(usage)
		return nil
	case word == "log=yes":
		log.SetLevel(log2.LDebug)
		return nil
	case word == "log=no":
		log.SetLevel(log2.LInfo)
		return nil
	case word == "radios":
		for _, name := range a.RadioNames() {
			r, err := a.Radio(name)
			if err != nil {
				return err
			}
			log.Infof("%s driver=%s interfaces=%v tx_powers=%d", name, r.Driver, r.Interfaces, len(r.TxPowers))
		}
		return nil
	case word == "stations":
		for _, sta := range a.Stations() {
			log.Infof("%s radio=%s associated=%t rc=%s tpc=%s rates=%d",
				sta.MAC(), sta.Radio(), sta.Associated(), sta.RCMode(), sta.TPCMode(), len(sta.SupportedRates()))
		}
		return nil
	case strings.HasPrefix(word, "@"):
		return a.Conn().Send(word[1:])
	case strings.HasPrefix(word, "start="):
		return a.EnableEvents("*", strings.Split(word[6:], ",")...)
	case strings.HasPrefix(word, "stop="):
		return a.DisableEvents("*", strings.Split(word[5:], ",")...)
	case strings.HasPrefix(word, "rates="):
		sta := a.Station(word[6:])
		if sta == nil {
			return errors.NotFoundf("station %q", word[6:])
		}
		rates := sta.SupportedRates()
		ss := make([]string, len(rates))
		for i, r := range rates {
			ss[i] = r.String()
		}
		log.Infof("%s: %s", sta.MAC(), strings.Join(ss, " "))
		return nil
	case word[0] == 's':
		if ms, err := strconv.ParseUint(word[1:], 10, 32); err == nil {
			time.Sleep(time.Duration(ms) * time.Millisecond)
			return nil
		}
	}
	return errors.Errorf("unknown command %q, try help", word)
}
