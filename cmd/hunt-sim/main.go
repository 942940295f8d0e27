package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"kickhunt/huntsync/internal/model"
)

type contestant struct {
	model.Contestant
	heading float64
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	prefix := flag.String("prefix", "huntsync", "Topic prefix the server ingests from")
	count := flag.Int("contestants", 5, "Number of simulated contestants")
	lat := flag.Float64("lat", 44.9778, "Latitude of the hunt area centre")
	lng := flag.Float64("lng", -93.2650, "Longitude of the hunt area centre")
	step := flag.Float64("step", 0.0004, "Maximum movement per tick in degrees")
	cachedRate := flag.Float64("cached-rate", 0.1, "Probability a contestant reports cached coordinates")
	interval := flag.Duration("interval", 5*time.Second, "Interval between published batches")

	flag.Parse()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	clientID := fmt.Sprintf("hunt-sim-%s", uuid.NewString())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	field := make([]*contestant, *count)
	for i := range field {
		field[i] = &contestant{
			Contestant: model.Contestant{
				Username:    fmt.Sprintf("runner%d", i+1),
				DisplayName: fmt.Sprintf("Runner %d", i+1),
				Lat:         *lat + (rng.Float64()-0.5)*0.01,
				Lng:         *lng + (rng.Float64()-0.5)*0.01,
			},
			heading: rng.Float64() * 360,
		}
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	topic := *prefix + "/positions"
	publish := func() {
		batch := make([]model.Contestant, 0, len(field))
		for _, c := range field {
			advance(rng, c, *step, *cachedRate)
			batch = append(batch, c.Contestant)
		}

		data, err := json.Marshal(batch)
		if err != nil {
			log.Printf("failed to encode batch: %v", err)
			return
		}

		token := client.Publish(topic, 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		log.Printf("published %s contestants=%d", topic, len(batch))
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}
}

// advance wanders a contestant and occasionally credits a found tag.
func advance(rng *rand.Rand, c *contestant, step, cachedRate float64) {
	c.Cached = rng.Float64() < cachedRate
	if c.Cached {
		return
	}

	c.heading += (rng.Float64() - 0.5) * 60
	dist := rng.Float64() * step
	rad := c.heading * math.Pi / 180
	c.Lat += dist * math.Cos(rad)
	c.Lng += dist * math.Sin(rad)

	if rng.Intn(20) == 0 {
		c.RFIDCount++
		c.Points += 10 + rng.Intn(40)
	}
}
