package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/speedcal/internal/config"
)

// DisplayData holds the latest track state for the OLED.
type DisplayData struct {
	mu sync.RWMutex

	status     StatusPayload
	haveStatus bool
	result     ResultPayload
	haveResult bool
	errMsg     string
}

// HandleMessage decodes a status, result or error payload. Payloads that
// are not JSON are ignored.
func (d *DisplayData) HandleMessage(topics Topics, topic string, payload []byte) {
	switch topic {
	case topics.Status:
		var st StatusPayload
		if err := json.Unmarshal(payload, &st); err != nil {
			return
		}
		d.mu.Lock()
		d.status = st
		d.haveStatus = true
		d.mu.Unlock()
	case topics.Result:
		var r ResultPayload
		if err := json.Unmarshal(payload, &r); err != nil {
			log.Printf("display: result unmarshal error: %v", err)
			return
		}
		d.mu.Lock()
		d.result = r
		d.haveResult = true
		d.errMsg = ""
		d.mu.Unlock()
	case topics.Error:
		var e ErrorPayload
		if err := json.Unmarshal(payload, &e); err != nil {
			log.Printf("display: error unmarshal error: %v", err)
			return
		}
		d.mu.Lock()
		d.errMsg = e.Message
		d.mu.Unlock()
	}
}

// Lines returns the text shown on the 128x64 screen, one entry per row.
func (d *DisplayData) Lines() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	lines := []string{"SPEED CAL"}
	if !d.haveStatus {
		return append(lines, "Waiting for track")
	}

	st := d.status
	switch st.State {
	case "measuring":
		lines = append(lines, fmt.Sprintf("MEASURING %d/%d", st.SensorsTriggered, st.Sensors))
	default:
		lines = append(lines, "State: "+st.State)
	}

	switch {
	case d.errMsg != "":
		lines = append(lines, "No speed:", truncate(d.errMsg, 18))
	case d.haveResult && d.result.Valid:
		r := d.result
		lines = append(lines,
			fmt.Sprintf("%.1f mph", r.AvgSpeedMPH),
			fmt.Sprintf("Dir: %s", r.Direction),
			fmt.Sprintf("Time: %.1f ms", r.DurationMS))
	case d.haveResult:
		lines = append(lines, "No speed")
	default:
		lines = append(lines, "No runs yet")
	}
	return lines
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// RenderLines draws up to five rows of text into a 128x64 1-bit image.
func RenderLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	drawer := font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if i >= 5 {
			break
		}
		drawer.Dot = fixed.P(0, 12*(i+1))
		drawer.DrawString(line)
	}
	return img
}

func RunDisplay(ctx context.Context) error {
	cfg := config.Get()
	topics := TopicsFromConfig(cfg)

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Println("display: initialized")

	data := &DisplayData{}
	if err := dev.Draw(dev.Bounds(), RenderLines(data.Lines()), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	for _, topic := range []string{topics.Status, topics.Result, topics.Error} {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			data.HandleMessage(topics, msg.Topic(), msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("display: subscribed to %s", topic)
	}

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return dev.Halt()
		case <-ticker.C:
			if err := dev.Draw(dev.Bounds(), RenderLines(data.Lines()), image.Point{}); err != nil {
				log.Printf("display: error updating display: %v", err)
			}
		}
	}
}
