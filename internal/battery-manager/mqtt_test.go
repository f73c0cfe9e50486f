package manager

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/TheCacophonyProject/smart-battery-manager/charge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMessage(t *testing.T) {
	m, err := stateMessage("laptops/mbp/", Report{
		Percent:     80,
		Temperature: 29.5,
		Mode:        charge.ModeSailing,
		Directive:   "discharge 75",
	})
	require.NoError(t, err)
	assert.Equal(t, "laptops/mbp/state", m.Topic)
	assert.True(t, m.Retain)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(m.Payload, &payload))
	assert.Equal(t, 80.0, payload["percent"])
	assert.Equal(t, "sailing", payload["mode"])
	assert.Equal(t, false, payload["heat_paused"])
}

func TestDiscoveryMessages(t *testing.T) {
	conf := DefaultConfig().MQTT
	msgs, err := discoveryMessages(conf, "battery_manager_mbp")
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	topics := make([]string, 0, len(msgs))
	for _, m := range msgs {
		topics = append(topics, m.Topic)
		assert.True(t, m.Retain)
		assert.True(t, strings.HasSuffix(m.Topic, "/config"))

		var e haEntity
		require.NoError(t, json.Unmarshal(m.Payload, &e))
		assert.Equal(t, "smart-battery-manager/state", e.StateTopic)
		assert.Equal(t, []string{"battery_manager_mbp"}, e.Device.Identifiers)
		assert.True(t, strings.HasPrefix(e.UniqueID, "battery_manager_mbp_"))
	}
	assert.Equal(t, []string{
		"homeassistant/sensor/battery_manager_mbp/percent/config",
		"homeassistant/sensor/battery_manager_mbp/temperature/config",
		"homeassistant/sensor/battery_manager_mbp/mode/config",
		"homeassistant/binary_sensor/battery_manager_mbp/heat_paused/config",
	}, topics)

	var heat haEntity
	require.NoError(t, json.Unmarshal(msgs[3].Payload, &heat))
	assert.Equal(t, "{{ value_json.heat_paused | lower }}", heat.ValueTemplate)
	assert.Equal(t, "true", heat.PayloadOn)
}

func TestMQTTDeviceID(t *testing.T) {
	id := mqttDeviceID()
	assert.True(t, strings.HasPrefix(id, "battery_manager_"))
	assert.NotContains(t, id, ".")
	assert.NotContains(t, id, "-")
}
