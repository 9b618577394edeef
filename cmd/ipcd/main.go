package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/ardlink/pkg/env"
	"github.com/robotalks/ardlink/pkg/framework"
	"github.com/robotalks/ardlink/pkg/gateway/mqtt"
	"github.com/robotalks/ardlink/pkg/ipc"
	"github.com/robotalks/ardlink/pkg/metrics"
)

var pollInterval time.Duration

func init() {
	env.SetupFlags()
	flag.DurationVar(&pollInterval, "poll-version", pollInterval, "Query the peer version periodically, 0 disables")
}

func pollVersion(sess *ipc.Session) framework.Runnable {
	return framework.RunnableFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ver, err := sess.PeerVersion(ctx)
				if err != nil {
					glog.Warningf("peer version: %v", err)
					continue
				}
				glog.Infof("peer version: %s", ver)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func main() {
	flag.Parse()

	conf := env.MustNewConfig()
	reg := metrics.NewRegistry()
	runner := framework.NewRunner().HandleSignals()

	var console io.Writer = os.Stdout
	var gateway *mqtt.Gateway
	if conf.MQTTBrokerURL != "" {
		var err error
		if gateway, err = mqtt.New(conf.MQTTBrokerURL, conf.ID()); err != nil {
			log.Fatalln(err)
		}
		console = io.MultiWriter(os.Stdout, gateway.Console())
	}

	sess := conf.MustOpenSession(reg, ipc.WithConsole(console))
	runner.Go(sess)
	if gateway != nil {
		gateway.Session = sess
		runner.Go(gateway)
	}
	if conf.MetricsAddr != "" {
		runner.Go(&metrics.Server{Addr: conf.MetricsAddr, Registry: reg})
	}
	if pollInterval > 0 {
		runner.Go(pollVersion(sess))
	}
	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}
