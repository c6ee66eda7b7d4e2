// Package publish pushes completed documents and session events to an MQTT
// broker so downstream consumers (note archives, dashboards) can react
// without polling the HTTP API.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/snarg/voxdoc/internal/eventbus"
	"github.com/snarg/voxdoc/internal/session"
)

type Publisher struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Publisher, error) {
	p := &Publisher{
		prefix: opts.TopicPrefix,
		log:    opts.Log,
	}
	if p.prefix == "" {
		p.prefix = "voxdoc"
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	p.conn = mqtt.NewClient(clientOpts)
	token := p.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Publisher) onConnect(mqtt.Client) {
	p.connected.Store(true)
	p.log.Info().Str("prefix", p.prefix).Msg("mqtt connected")
}

func (p *Publisher) onConnectionLost(_ mqtt.Client, err error) {
	p.connected.Store(false)
	p.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (p *Publisher) IsConnected() bool {
	return p.connected.Load()
}

// documentMessage is the payload published when a document completes.
type documentMessage struct {
	SessionID          string                   `json:"session_id"`
	FinalDocument      string                   `json:"final_document"`
	CognitiveLoadIndex int                      `json:"cognitive_load_index"`
	Metrics            session.CognitiveMetrics `json:"metrics"`
	Warnings           []string                 `json:"warnings,omitempty"`
}

// StoreDocument publishes a completed document. Implements jobs.Sink.
func (p *Publisher) StoreDocument(_ context.Context, state *session.State) error {
	payload, err := json.Marshal(documentMessage{
		SessionID:          state.SessionID,
		FinalDocument:      state.FinalDocument,
		CognitiveLoadIndex: state.CognitiveLoadIndex,
		Metrics:            state.Metrics,
		Warnings:           state.Warnings,
	})
	if err != nil {
		return err
	}

	topic := fmt.Sprintf("%s/documents/%s", p.prefix, state.SessionID)
	token := p.conn.Publish(topic, 1, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}

	p.log.Debug().Str("topic", topic).Int("payload_size", len(payload)).Msg("document published")
	return nil
}

func (p *Publisher) Name() string { return "mqtt" }

// Forward relays bus events onto MQTT until ctx is canceled. Slow or
// disconnected brokers drop events rather than back up the bus.
func (p *Publisher) Forward(ctx context.Context, bus *eventbus.Bus) {
	events, cancel := bus.Subscribe(eventbus.Filter{
		Types: []string{eventbus.TypeModeSwitched, eventbus.TypeJobCompleted, eventbus.TypeSessionStarted, eventbus.TypeSessionStopped},
	})
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			if !p.connected.Load() {
				continue
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			topic := fmt.Sprintf("%s/events/%s", p.prefix, e.Type)
			p.conn.Publish(topic, 0, false, payload)
		}
	}
}

func (p *Publisher) Close() {
	p.log.Info().Msg("disconnecting mqtt publisher")
	p.conn.Disconnect(1000)
}
