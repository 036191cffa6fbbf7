package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/smdmonitor/smdmonitor/pkg/compliance"
	"github.com/smdmonitor/smdmonitor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err      error
	timedOut bool
}

func (t *fakeToken) Wait() bool { return !t.timedOut }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	token        *fakeToken
	messages     []published
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.disconnected = true
}

func reports() []compliance.ZoneReport {
	return []compliance.ZoneReport{
		{Zone: types.ZoneLuzon, Stats: compliance.Stats{
			Peak: types.Some(110), Mean: types.Some(105), Min: types.Some(100),
			ComplianceRate: types.Some(100), Intervals: 2,
		}},
		{Zone: types.ZoneSystem, Stats: compliance.Stats{ViolationCount: 2, Intervals: 2, ComplianceRate: types.Some(0)}},
	}
}

func TestPublishReports(t *testing.T) {
	client := &fakeClient{token: &fakeToken{}}
	p := newPublisher(client, "grid/")
	require.True(t, p.Enabled())

	r := types.DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishReports(context.Background(), r, reports()))
	require.Len(t, client.messages, 2)

	msg := client.messages[0]
	assert.Equal(t, "grid/luzon/compliance", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var s Summary
	require.NoError(t, json.Unmarshal(msg.payload, &s))
	assert.Equal(t, types.ZoneLuzon, s.Zone)
	assert.Equal(t, "2024-01-01", s.Start)
	assert.Equal(t, "2024-01-02", s.End)
	assert.Equal(t, types.Some(110), s.Peak)
	assert.Equal(t, 2, s.Intervals)

	assert.Equal(t, "grid/system/compliance", client.messages[1].topic)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(client.messages[1].payload, &raw))
	assert.Nil(t, raw["peak"])
	assert.Equal(t, "2024-01-01", raw["start"])
	assert.Equal(t, "2024-01-02", raw["end"])

	// an unfiltered load has no range in the payload
	require.NoError(t, p.PublishReports(context.Background(), types.DateRange{}, reports()))
	require.Len(t, client.messages, 4)
	for _, msg := range client.messages[2:] {
		raw = map[string]any{}
		require.NoError(t, json.Unmarshal(msg.payload, &raw))
		assert.NotContains(t, raw, "start")
		assert.NotContains(t, raw, "end")
	}

	p.Close()
	assert.True(t, client.disconnected)
}

func TestPublishErrors(t *testing.T) {
	client := &fakeClient{token: &fakeToken{err: errors.New("not connected")}}
	p := newPublisher(client, "")
	err := p.PublishReports(context.Background(), types.DateRange{}, reports())
	assert.ErrorContains(t, err, "publishing to smdmonitor/luzon/compliance")
	assert.Len(t, client.messages, 1, "stops at the first failure")

	client = &fakeClient{token: &fakeToken{timedOut: true}}
	p = newPublisher(client, "")
	err = p.PublishReports(context.Background(), types.DateRange{}, reports())
	assert.ErrorContains(t, err, "timed out")
}

func TestDisabledPublisher(t *testing.T) {
	var p *Publisher
	assert.False(t, p.Enabled())
	assert.NoError(t, p.PublishReports(context.Background(), types.DateRange{}, reports()))
	p.Close()

	p = &Publisher{}
	assert.False(t, p.Enabled())
	assert.NoError(t, p.PublishReports(context.Background(), types.DateRange{}, reports()))
}

func TestNewRequiresBroker(t *testing.T) {
	_, err := New(MQTTConfig{})
	assert.ErrorContains(t, err, "broker address is required")
}
