package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/golang/glog"

	"github.com/robotalks/ardlink/pkg/bridge"
	"github.com/robotalks/ardlink/pkg/env"
	"github.com/robotalks/ardlink/pkg/framework"
	"github.com/robotalks/ardlink/pkg/metrics"
	"github.com/robotalks/ardlink/pkg/serialport"
)

var (
	listenAddr string
	usbPort    string
	vbusPath   string
	vbusStates = "configured"
)

func init() {
	env.SetupFlags()
	flag.StringVar(&listenAddr, "listen", listenAddr, "Serve the host side over websocket on this address")
	flag.StringVar(&usbPort, "usb", usbPort, "Serial device of the USB function, e.g. /dev/ttyGS0")
	flag.StringVar(&vbusPath, "vbus", vbusPath, "File reporting the USB device state, e.g. /sys/class/udc/<udc>/state")
	flag.StringVar(&vbusStates, "vbus-states", vbusStates, "Comma separated states meaning VBUS present")
}

func websocketServer(conf *env.Config, m *metrics.Bridge) framework.Runnable {
	open := func() (io.ReadWriteCloser, error) {
		return serialport.Open(conf.Serial)
	}
	mux := http.NewServeMux()
	mux.Handle("/", bridge.WebsocketHandler(open, func(b *bridge.Bridge) {
		b.Metrics = m
	}))
	return framework.RunnableFunc(func(ctx context.Context) error {
		srv := &http.Server{Addr: listenAddr, Handler: mux}
		errCh := make(chan error, 1)
		go func() {
			glog.Infof("serving websocket on %s", listenAddr)
			errCh <- srv.ListenAndServe()
		}()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			srv.Close()
			return ctx.Err()
		}
	})
}

func serialBridge(conf *env.Config, m *metrics.Bridge) (framework.Runnable, error) {
	usb, err := serialport.Open(serialport.Config{Name: usbPort, Baud: conf.Serial.Baud})
	if err != nil {
		return nil, err
	}
	uart, err := serialport.Open(conf.Serial)
	if err != nil {
		usb.Close()
		return nil, err
	}
	b := bridge.New(usb, uart)
	b.Metrics = m
	if vbusPath == "" {
		return b, nil
	}
	monitor := bridge.NewPowerMonitor(&bridge.FileSensor{
		Path:    vbusPath,
		Present: strings.Split(vbusStates, ","),
	})
	b.Disconnected = monitor.Disconnected()
	return framework.RunnableFunc(func(ctx context.Context) error {
		monitor.Start(ctx)
		defer monitor.Stop()
		return b.Run(ctx)
	}), nil
}

func main() {
	flag.Parse()

	conf := env.MustNewConfig()
	reg := metrics.NewRegistry()
	m := metrics.NewBridge(reg)
	runner := framework.NewRunner().HandleSignals()

	switch {
	case listenAddr != "":
		runner.Go(websocketServer(conf, m))
	case usbPort != "":
		b, err := serialBridge(conf, m)
		if err != nil {
			log.Fatalln(err)
		}
		runner.Go(b)
	default:
		log.Fatalln("either -listen or -usb is required")
	}
	if conf.MetricsAddr != "" {
		runner.Go(&metrics.Server{Addr: conf.MetricsAddr, Registry: reg})
	}
	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}
