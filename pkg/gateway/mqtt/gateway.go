package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/robotalks/ardlink/pkg/ipc"
	"github.com/robotalks/ardlink/pkg/version"
)

// Topics relative to <prefix><device-id>/.
const (
	TopicCmd     = "cmd"
	TopicReply   = "reply"
	TopicConsole = "console"
	TopicMeta    = "meta"
)

// CodeFailed is the reply code of a command which failed locally, e.g.
// timed out or was rejected before transmission.
const CodeFailed = -1

const (
	requestQueueSize = 8
	consoleQueueSize = 32
)

// Session is the part of ipc.Session used by the gateway.
type Session interface {
	Send(ctx context.Context, cmd string, wait bool) error
	Query(ctx context.Context, cmd string) (string, error)
	PeerVersion(ctx context.Context) (string, error)
}

// Request is a command received on the cmd topic.
type Request struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Wait    *bool  `json:"wait,omitempty"`
}

// Reply is published on the reply topic.
type Reply struct {
	ID       string `json:"id"`
	Command  string `json:"command"`
	Code     int    `json:"code"`
	Error    string `json:"error,omitempty"`
	Response string `json:"response,omitempty"`
}

// Meta is published retained on the meta topic while the gateway is online.
type Meta struct {
	DeviceID    string `json:"device_id"`
	Version     string `json:"version"`
	PeerVersion string `json:"peer_version,omitempty"`
}

// PublishFunc publishes a payload to a topic relative to the device.
type PublishFunc func(topic string, payload []byte, retain bool) error

// Gateway forwards MQTT commands to a session.
type Gateway struct {
	Queue    *Queue
	Session  Session
	DeviceID string
	Publish  PublishFunc

	requests chan *Request
	console  chan []byte
}

// New creates a Gateway for the broker. Session must be set before Run.
func New(brokerURL, deviceID string) (*Gateway, error) {
	opts, prefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT URL: %v", err)
	}
	opts.SetBinaryWill(prefix+deviceID+"/"+TopicMeta, nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("ardlink:" + deviceID)
	}
	g := &Gateway{
		Queue:    NewQueue(opts, prefix),
		DeviceID: deviceID,
		requests: make(chan *Request, requestQueueSize),
		console:  make(chan []byte, consoleQueueSize),
	}
	g.Publish = g.publish
	return g, nil
}

// Name implements framework.Named.
func (g *Gateway) Name() string {
	return "mqtt-gateway"
}

func (g *Gateway) topic(name string) string {
	return g.DeviceID + "/" + name
}

func (g *Gateway) publish(topic string, payload []byte, retain bool) error {
	token := g.Queue.Pub(g.topic(topic), payload, retain)
	if !token.WaitTimeout(time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	return token.Error()
}

// Run connects to the broker and serves commands until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	if token := g.Queue.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect MQTT broker: %v", token.Error())
	}
	defer g.Queue.Close()
	g.Queue.Sub(g.topic(TopicCmd), g.handleCmd)
	g.publishMeta(ctx)
	err := g.serve(ctx)
	// clear the retained meta
	g.Publish(TopicMeta, nil, true)
	return err
}

func (g *Gateway) publishMeta(ctx context.Context) {
	meta := Meta{DeviceID: g.DeviceID, Version: version.String()}
	if ver, err := g.Session.PeerVersion(ctx); err == nil {
		meta.PeerVersion = ver
	} else {
		glog.Warningf("mqtt: peer version: %v", err)
	}
	payload, _ := json.Marshal(&meta)
	if err := g.Publish(TopicMeta, payload, true); err != nil {
		glog.Warningf("mqtt: publish meta: %v", err)
	}
}

func (g *Gateway) serve(ctx context.Context) error {
	for {
		select {
		case req := <-g.requests:
			reply := g.execute(ctx, req)
			payload, _ := json.Marshal(reply)
			if err := g.Publish(TopicReply, payload, false); err != nil {
				glog.Warningf("mqtt: publish reply %s: %v", reply.ID, err)
			}
		case text := <-g.console:
			if err := g.Publish(TopicConsole, text, false); err != nil {
				glog.V(2).Infof("mqtt: console: %v", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleCmd runs on the MQTT client goroutine and must not block.
func (g *Gateway) handleCmd(topic string, payload []byte) {
	req, err := ParseRequest(payload)
	if err != nil {
		glog.Warningf("mqtt: invalid request: %v", err)
		return
	}
	select {
	case g.requests <- req:
	default:
		glog.Warningf("mqtt: too many pending requests, %s dropped", req.ID)
	}
}

// ParseRequest accepts a JSON Request or the plain command text. The
// reply is waited for unless the request says otherwise. Requests
// without ID get a random one.
func ParseRequest(payload []byte) (*Request, error) {
	payload = bytes.TrimSpace(payload)
	req := &Request{}
	if len(payload) > 0 && payload[0] == '{' {
		if err := json.Unmarshal(payload, req); err != nil {
			return nil, err
		}
	} else {
		req.Command = string(payload)
	}
	if req.Command == "" {
		return nil, errors.New("empty command")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	return req, nil
}

func (g *Gateway) execute(ctx context.Context, req *Request) *Reply {
	reply := &Reply{ID: req.ID, Command: req.Command}
	var err error
	if req.Wait == nil || *req.Wait {
		reply.Response, err = g.Session.Query(ctx, req.Command)
	} else {
		err = g.Session.Send(ctx, req.Command, false)
	}
	if err != nil {
		reply.Code, reply.Error = CodeFailed, err.Error()
		var cmdErr *ipc.CommandError
		if errors.As(err, &cmdErr) {
			reply.Code = cmdErr.Code
		}
	}
	return reply
}

// Console returns a writer publishing to the console topic, to be used as
// the console of the session. Writes never block: the text is queued for
// the serve loop and dropped when the queue is full.
func (g *Gateway) Console() io.Writer {
	return consoleWriter{g}
}

type consoleWriter struct {
	g *Gateway
}

func (w consoleWriter) Write(p []byte) (int, error) {
	select {
	case w.g.console <- append([]byte(nil), p...):
	default:
		glog.V(2).Infof("mqtt: console queue full, %d bytes dropped", len(p))
	}
	return len(p), nil
}
