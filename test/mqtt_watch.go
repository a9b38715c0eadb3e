package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// mirroredPoint is the JSON document published by the MQTT sink
type mirroredPoint struct {
	Measurement string             `json:"measurement"`
	Tags        map[string]string  `json:"tags"`
	Fields      map[string]float64 `json:"fields"`
	Time        string             `json:"time,omitempty"`
}

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	username := flag.String("username", "", "MQTT username")
	password := flag.String("password", "", "MQTT password")
	prefix := flag.String("prefix", "smartthings", "topic prefix of the MQTT sink")
	mode := flag.String("mode", "watch", "run mode: watch, single")
	flag.Parse()

	opts := paho.NewClientOptions()
	opts.AddBroker(*broker)
	opts.SetClientID(fmt.Sprintf("smartthings-influx-watch-%d", time.Now().Unix()))
	if *username != "" {
		opts.SetUsername(*username)
		opts.SetPassword(*password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		fmt.Printf("connection lost: %v\n", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		fmt.Printf("failed to connect to MQTT broker: %v\n", token.Error())
		os.Exit(1)
	}
	fmt.Printf("connected to MQTT broker: %s\n", *broker)

	switch *mode {
	case "watch":
		watchPoints(client, *prefix)
	case "single":
		publishSamplePoint(client, *prefix)
	default:
		fmt.Println("unknown mode, use watch or single")
		os.Exit(1)
	}
}

// watchPoints prints every point mirrored under prefix until interrupted
func watchPoints(client paho.Client, prefix string) {
	topic := prefix + "/#"
	token := client.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
		var p mirroredPoint
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			fmt.Printf("[%s] undecodable payload: %s\n", msg.Topic(), msg.Payload())
			return
		}
		ts := p.Time
		if ts == "" {
			ts = "(server time)"
		}
		fmt.Printf("[%s] %s device=%s name=%q value=%v time=%s\n",
			time.Now().Format("15:04:05"), p.Measurement, p.Tags["deviceId"], p.Tags["deviceName"], p.Fields["value"], ts)
	})
	if token.Wait() && token.Error() != nil {
		fmt.Printf("failed to subscribe to %s: %v\n", topic, token.Error())
		os.Exit(1)
	}
	fmt.Printf("watching %s\n", topic)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("disconnecting...")
	client.Disconnect(250)
}

// publishSamplePoint publishes one point in the sink's format, useful to
// check a watcher or a downstream consumer without a SmartThings account
func publishSamplePoint(client paho.Client, prefix string) {
	p := mirroredPoint{
		Measurement: "temperature",
		Tags:        map[string]string{"deviceId": "test-device-001", "deviceName": "Test Sensor"},
		Fields:      map[string]float64{"value": 72},
		Time:        time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}
	payload, err := json.Marshal(p)
	if err != nil {
		fmt.Printf("failed to encode point: %v\n", err)
		return
	}

	topic := fmt.Sprintf("%s/%s/%s", prefix, p.Tags["deviceId"], p.Measurement)
	token := client.Publish(topic, 0, false, payload)
	token.Wait()
	if token.Error() != nil {
		fmt.Printf("failed to publish: %v\n", token.Error())
	} else {
		fmt.Printf("published to %s: %s\n", topic, payload)
	}
	client.Disconnect(250)
}
