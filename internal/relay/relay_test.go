package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"kickhunt/huntsync/internal/huntsync"
	"kickhunt/huntsync/internal/model"
)

type fakeToken struct {
	mqtt.Token
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { <-t.done; return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	connectErr   error
	published    []published
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) Connect() mqtt.Token { return doneToken(c.connectErr) }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken(nil)
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return doneToken(nil)
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	return doneToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	handler := c.handlers[topic]
	c.mu.Unlock()
	handler(c, &fakeMessage{topic: topic, payload: payload})
}

func newTestRelay(client mqtt.Client) *Relay {
	return NewWithClient(client, "hunt", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRelayPublishesDisplayCalls(t *testing.T) {
	client := newFakeClient()
	r := newTestRelay(client)

	if r.HasMarkers() {
		t.Fatal("relay never reports markers")
	}
	r.Redisplay([]model.Location{{RFIDID: 5, Lat: 1, Lng: 2}})
	r.Status("New RFID #5 discovered!", huntsync.StatusSuccess)

	if len(client.published) != 2 {
		t.Fatalf("published %d messages, want 2", len(client.published))
	}

	locs := client.published[0]
	if locs.topic != "hunt/rfid/locations" || !locs.retained {
		t.Fatalf("unexpected locations publish %+v", locs)
	}
	var decoded []model.Location
	if err := json.Unmarshal(locs.payload, &decoded); err != nil || len(decoded) != 1 || decoded[0].RFIDID != 5 {
		t.Fatalf("locations payload %s (err %v)", locs.payload, err)
	}

	status := client.published[1]
	if status.topic != "hunt/status" || status.retained {
		t.Fatalf("unexpected status publish %+v", status)
	}
	var sp statusPayload
	if err := json.Unmarshal(status.payload, &sp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if sp.Message != "New RFID #5 discovered!" || sp.Kind != huntsync.StatusSuccess || sp.Timestamp == "" {
		t.Fatalf("unexpected status payload %+v", sp)
	}
}

func TestRelayIngestPositions(t *testing.T) {
	client := newFakeClient()
	r := newTestRelay(client)

	var got [][]model.Contestant
	ingest := func(ctx context.Context, cs []model.Contestant) error {
		got = append(got, cs)
		return nil
	}
	if err := r.IngestPositions(context.Background(), ingest); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	client.deliver("hunt/positions", []byte(`[["amy","Amy","44.1","-93.2",12,"3",0],["bo","Bo",1,2,0,0,true]]`))
	client.deliver("hunt/positions", []byte(`{"not":"an array"}`))

	if len(got) != 1 || len(got[0]) != 2 {
		t.Fatalf("ingested %+v", got)
	}
	amy := got[0][0]
	if amy.Username != "amy" || amy.Lat != 44.1 || amy.RFIDCount != 3 || amy.Cached {
		t.Fatalf("unexpected contestant %+v", amy)
	}
	if !got[0][1].Cached {
		t.Fatal("cached flag lost")
	}

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(client.unsubscribed) != 1 || client.unsubscribed[0] != "hunt/positions" || !client.disconnected {
		t.Fatalf("close did not unsubscribe and disconnect: %+v", client)
	}
}

func TestRelayConnectFailure(t *testing.T) {
	client := newFakeClient()
	client.connectErr = errors.New("refused")
	r := newTestRelay(client)

	if err := r.Connect(context.Background()); err == nil || !errors.Is(err, client.connectErr) {
		t.Fatalf("expected wrapped connect error, got %v", err)
	}
}

func TestWaitTokenHonorsContext(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := waitToken(ctx, pending); !errors.Is(err, context.Canceled) {
		t.Fatalf("waitToken = %v, want context.Canceled", err)
	}
}

func TestDecodePositionsRejectsBadTuples(t *testing.T) {
	for _, payload := range []string{`[["only","three",1]]`, `[[null,"x",1,2,3,4,false]]`, `nope`} {
		if _, err := DecodePositions([]byte(payload)); err == nil {
			t.Fatalf("expected error for %s", payload)
		}
	}
}
