package manager

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	mqttPublishTimeout = 5 * time.Second
	mqttDisconnectMs   = 250
	// Home Assistant marks the sensors unavailable when no state arrives for this long.
	stateExpireSeconds = 10 * 60
)

type mqttMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

type mqttPublisher struct {
	conf     MQTTConfig
	deviceID string
	client   mqtt.Client
}

func newMQTTPublisher(conf MQTTConfig) *mqttPublisher {
	p := &mqttPublisher{
		conf:     conf,
		deviceID: mqttDeviceID(),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(conf.Broker)
	opts.SetClientID("smart-battery-manager-" + uuid.NewString())
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warnf("MQTT connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Infof("Connected to MQTT broker at %s", conf.Broker)
		if conf.DiscoveryPrefix == "" {
			return
		}
		msgs, err := discoveryMessages(conf, p.deviceID)
		if err != nil {
			log.Errorf("Failed to build MQTT discovery: %v", err)
			return
		}
		for _, m := range msgs {
			publish(client, m)
		}
	})
	p.client = mqtt.NewClient(opts)
	return p
}

// connect starts connecting in the background. Reports are dropped until the
// broker is reachable.
func (p *mqttPublisher) connect() {
	log.Infof("Connecting to MQTT broker at %s", p.conf.Broker)
	p.client.Connect()
}

func (p *mqttPublisher) close() {
	if p.client.IsConnected() {
		p.client.Disconnect(mqttDisconnectMs)
		log.Info("Disconnected from MQTT broker")
	}
}

func (p *mqttPublisher) Observe(r Report) {
	if !p.client.IsConnectionOpen() {
		log.Debug("MQTT not connected, skipping state publish")
		return
	}
	m, err := stateMessage(p.conf.TopicPrefix, r)
	if err != nil {
		log.Errorf("Failed to encode MQTT state: %v", err)
		return
	}
	publish(p.client, m)
}

func publish(client mqtt.Client, m mqttMessage) {
	token := client.Publish(m.Topic, m.QoS, m.Retain, m.Payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		log.Warnf("Timed out publishing to %s", m.Topic)
		return
	}
	if err := token.Error(); err != nil {
		log.Warnf("Failed to publish to %s: %v", m.Topic, err)
	}
}

func stateTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/state"
}

func stateMessage(prefix string, r Report) (mqttMessage, error) {
	payload, err := r.JSON()
	if err != nil {
		return mqttMessage{}, err
	}
	return mqttMessage{
		Topic:   stateTopic(prefix),
		Payload: payload,
		QoS:     1,
		Retain:  true,
	}, nil
}

func mqttDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "mac"
	}
	host = strings.ToLower(strings.TrimSuffix(host, ".local"))
	return "battery_manager_" + strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(host)
}

type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

type haEntity struct {
	Name             string   `json:"name"`
	DeviceClass      string   `json:"device_class,omitempty"`
	StateTopic       string   `json:"state_topic"`
	ValueTemplate    string   `json:"value_template"`
	UnitOfMeasure    string   `json:"unit_of_measurement,omitempty"`
	StateClass       string   `json:"state_class,omitempty"`
	PayloadOn        string   `json:"payload_on,omitempty"`
	PayloadOff       string   `json:"payload_off,omitempty"`
	UniqueID         string   `json:"unique_id"`
	ExpireAfter      uint     `json:"expire_after,omitempty"`
	DisplayPrecision int      `json:"suggested_display_precision,omitempty"`
	Icon             string   `json:"icon,omitempty"`
	Device           haDevice `json:"device"`
}

// discoveryMessages builds the retained Home Assistant discovery configs for
// the percent, temperature, mode and heat paused entities.
func discoveryMessages(conf MQTTConfig, deviceID string) ([]mqttMessage, error) {
	device := haDevice{
		Identifiers:  []string{deviceID},
		Name:         "Smart Battery Manager",
		Manufacturer: "The Cacophony Project",
		SWVersion:    version,
	}
	state := stateTopic(conf.TopicPrefix)

	type entity struct {
		component string
		key       string
		config    haEntity
	}
	entities := []entity{
		{"sensor", "percent", haEntity{
			Name:          "Battery",
			DeviceClass:   "battery",
			UnitOfMeasure: "%",
			StateClass:    "measurement",
		}},
		{"sensor", "temperature", haEntity{
			Name:             "Battery temperature",
			DeviceClass:      "temperature",
			UnitOfMeasure:    "°C",
			StateClass:       "measurement",
			DisplayPrecision: 1,
		}},
		{"sensor", "mode", haEntity{
			Name: "Charge mode",
			Icon: "mdi:battery-sync",
		}},
		{"binary_sensor", "heat_paused", haEntity{
			Name:        "Heat paused",
			DeviceClass: "heat",
			PayloadOn:   "true",
			PayloadOff:  "false",
		}},
	}

	msgs := make([]mqttMessage, 0, len(entities))
	for _, e := range entities {
		c := e.config
		c.StateTopic = state
		c.UniqueID = deviceID + "_" + e.key
		c.ExpireAfter = stateExpireSeconds
		c.Device = device
		c.ValueTemplate = "{{ value_json." + e.key + " }}"
		if e.component == "binary_sensor" {
			c.ValueTemplate = "{{ value_json." + e.key + " | lower }}"
		}
		payload, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, mqttMessage{
			Topic:   fmt.Sprintf("%s/%s/%s/%s/config", conf.DiscoveryPrefix, e.component, deviceID, e.key),
			Payload: payload,
			QoS:     1,
			Retain:  true,
		})
	}
	return msgs, nil
}
