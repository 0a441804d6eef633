package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/speedcal/internal/config"
)

// FormatStatusLine renders a status payload for the MQTT console.
func FormatStatusLine(st StatusPayload) string {
	line := fmt.Sprintf("[STATUS] state=%-9s sensors=%d spacing=%.1fmm scale=1:%.1f mqtt=%t",
		st.State, st.Sensors, st.SpacingMM, st.ScaleFactor, st.MQTT)
	if st.State == "measuring" {
		line += fmt.Sprintf(" triggered=%d", st.SensorsTriggered)
	}
	if st.BusErrors > 0 {
		line += fmt.Sprintf(" bus_errors=%d", st.BusErrors)
	}
	return line
}

// FormatResultLines renders a result payload for the MQTT console.
func FormatResultLines(r ResultPayload) []string {
	lines := []string{fmt.Sprintf("[RESULT] run=%s dir=%s triggered=%d/%d duration=%.1fms timed_out=%t",
		r.RunID, r.Direction, r.SensorsTriggered, r.Sensors, r.DurationMS, r.TimedOut)}
	for i := range r.IntervalsUS {
		lines = append(lines, fmt.Sprintf("         interval %d: %8d us  %8.1f mm/s  %6.1f mph",
			i+1, r.IntervalsUS[i], r.SpeedsMMS[i], r.SpeedsMPH[i]))
	}
	if r.Valid {
		lines = append(lines, fmt.Sprintf("         AVERAGE: %.1f scale mph", r.AvgSpeedMPH))
	}
	return lines
}

// PrintTrackMessage decodes one message from the track topics and writes it
// to w.
func PrintTrackMessage(w io.Writer, topics Topics, topic string, payload []byte) {
	switch topic {
	case topics.Status:
		var st StatusPayload
		if err := json.Unmarshal(payload, &st); err != nil {
			return
		}
		fmt.Fprintln(w, FormatStatusLine(st))
	case topics.Result:
		var r ResultPayload
		if err := json.Unmarshal(payload, &r); err != nil {
			log.Printf("console: result unmarshal error: %v", err)
			return
		}
		fmt.Fprintln(w, strings.Join(FormatResultLines(r), "\n"))
	case topics.Error:
		var e ErrorPayload
		if err := json.Unmarshal(payload, &e); err != nil {
			log.Printf("console: error unmarshal error: %v", err)
			return
		}
		fmt.Fprintf(w, "[ERROR]  %s\n", e.Message)
	case topics.Log:
		fmt.Fprintf(w, "[LOG]    %s\n", payload)
	}
}

func RunConsoleMQTT(ctx context.Context, w io.Writer) error {
	cfg := config.Get()
	topics := TopicsFromConfig(cfg)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	for _, topic := range []string{topics.Status, topics.Result, topics.Error, topics.Log} {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			PrintTrackMessage(w, topics, msg.Topic(), msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", topic)
	}

	<-ctx.Done()

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
