// Package mqtt exposes a session over MQTT: commands come in on a topic,
// replies and the console text of the peer are published.
package mqtt

import (
	"net/url"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// Handler is called when a message arrives on a subscribed topic. The
// topic is relative to the prefix of the Queue.
type Handler func(topic string, payload []byte)

// Queue wraps an MQTT client with topics relative to a prefix.
type Queue struct {
	Client      paho.Client
	TopicPrefix string
	OnConnect   func(*Queue)

	lock sync.RWMutex
	subs map[string][]Handler
}

// MatchTopic matches topic against a pattern with + and # wildcards.
func MatchTopic(topic, pattern string) bool {
	t, p := strings.Split(topic, "/"), strings.Split(pattern, "/")
	for i, seg := range p {
		if seg == "#" && i == len(p)-1 {
			return true
		}
		if i >= len(t) || (seg != "+" && seg != t[i]) {
			return false
		}
	}
	return len(t) == len(p)
}

// ClientOptionsFromURL parses mqtt://[user:pass@]host:port/topic-prefix[?client-id=id]
// into client options and the topic prefix.
func ClientOptionsFromURL(brokerURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, "", err
	}
	scheme := u.Scheme
	if scheme == "" || scheme == "mqtt" {
		scheme = "tcp"
	}
	opts := paho.NewClientOptions().
		AddBroker(scheme + "://" + u.Host).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	if id := u.Query().Get("client-id"); id != "" {
		opts.SetClientID(id)
	}
	return opts, strings.TrimPrefix(u.Path, "/"), nil
}

// NewQueue creates a Queue, the client is not connected.
func NewQueue(opts *paho.ClientOptions, topicPrefix string) *Queue {
	q := &Queue{TopicPrefix: topicPrefix, subs: make(map[string][]Handler)}
	opts.SetOnConnectHandler(q.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		glog.Warningf("mqtt: connection lost: %v", err)
	})
	q.Client = paho.NewClient(opts)
	return q
}

// Connect connects the client.
func (q *Queue) Connect() paho.Token {
	return q.Client.Connect()
}

// Close disconnects the client.
func (q *Queue) Close() error {
	q.Client.Disconnect(250)
	return nil
}

// Sub subscribes handler to topic.
func (q *Queue) Sub(topic string, handler Handler) paho.Token {
	q.lock.Lock()
	handlers := q.subs[topic]
	q.subs[topic] = append(handlers, handler)
	q.lock.Unlock()
	if len(handlers) > 0 {
		return &paho.DummyToken{}
	}
	glog.V(2).Infof("mqtt: SUB %q", q.TopicPrefix+topic)
	return q.Client.Subscribe(q.TopicPrefix+topic, 1, q.dispatch)
}

// Pub publishes payload to topic.
func (q *Queue) Pub(topic string, payload []byte, retain bool) paho.Token {
	return q.Client.Publish(q.TopicPrefix+topic, 1, retain, payload)
}

func (q *Queue) onConnect(paho.Client) {
	glog.Info("mqtt: connected")
	q.lock.RLock()
	filters := make(map[string]byte, len(q.subs))
	for topic := range q.subs {
		filters[q.TopicPrefix+topic] = 1
	}
	q.lock.RUnlock()
	if len(filters) > 0 {
		q.Client.SubscribeMultiple(filters, q.dispatch)
	}
	if q.OnConnect != nil {
		q.OnConnect(q)
	}
}

func (q *Queue) dispatch(_ paho.Client, msg paho.Message) {
	topic := msg.Topic()
	if !strings.HasPrefix(topic, q.TopicPrefix) {
		return
	}
	topic = topic[len(q.TopicPrefix):]
	glog.V(2).Infof("mqtt: RCV %q", topic)
	var handlers []Handler
	q.lock.RLock()
	for pattern, hs := range q.subs {
		if MatchTopic(topic, pattern) {
			handlers = append(handlers, hs...)
		}
	}
	q.lock.RUnlock()
	for _, h := range handlers {
		h(topic, msg.Payload())
	}
}
