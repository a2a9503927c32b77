package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"

	"github.com/wlansys/orcactl/log2"
	"github.com/wlansys/orcactl/manager"
	"github.com/wlansys/orcactl/rc"
)

var log = log2.NewStderr(log2.LInfo)

func main() {
	flagConfig := flag.String("config", "orcactl.hcl", "")
	flagDebug := flag.Bool("debug", false, "")
	flag.Parse()

	if sdnotify("start") {
		// under systemd, journal adds the timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	config := manager.MustReadConfig(log, manager.NewOsFullReader(""), *flagConfig)
	if *flagDebug || config.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	log.Debugf("config=%+v", config)
	if len(config.APs) == 0 {
		log.Fatal("config: no access points")
	}

	registry := rc.NewRegistry()
	rc.RegisterBuiltins(registry)
	m := manager.New(config, registry, log)
	m.Start()
	sdnotify(daemon.SdNotifyReady)
	log.Infof("running aps=%d algorithm=%s", len(m.AccessPoints()), config.DefaultAlgorithm())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("signal %v, stopping", sig)
	sdnotify(daemon.SdNotifyStopping)
	m.Stop()
	log.Infof("stopped")
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
