package bus

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel counts operations and fails publishes until failuresLeft
// reaches zero.
type fakeChannel struct {
	failuresLeft int
	published    []string // "exchange/key"
	bindings     []string
	deliveries   chan amqp.Delivery
	closed       bool
}

func (f *fakeChannel) ExchangeDeclare(string, string, bool, bool, bool, bool, amqp.Table) error {
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, _ amqp.Publishing) error {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return errors.New("connection reset")
	}
	f.published = append(f.published, exchange+"/"+key)
	return nil
}

func (f *fakeChannel) QueueDeclare(string, bool, bool, bool, bool, amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: "amq.gen-test"}, nil
}

func (f *fakeChannel) QueueBind(_ string, key, exchange string, _ bool, _ amqp.Table) error {
	f.bindings = append(f.bindings, exchange+"/"+key)
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func newTestConn(t *testing.T, ch *fakeChannel) (*Conn, *int) {
	t.Helper()
	dials := 0
	c, err := newConn(func() (channel, error) {
		dials++
		return ch, nil
	})
	require.NoError(t, err)
	return c, &dials
}

func TestPublish_FirstAttemptSucceeds(t *testing.T) {
	ch := &fakeChannel{}
	c, dials := newTestConn(t, ch)

	err := c.Publish(context.Background(), Exchange, "POS.42.1001", []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, []string{"zlogger/POS.42.1001"}, ch.published)
	assert.Equal(t, 1, *dials)
}

func TestPublish_RetriesWithReconnect(t *testing.T) {
	ch := &fakeChannel{failuresLeft: 2}
	c, dials := newTestConn(t, ch)

	err := c.Publish(context.Background(), Exchange, "TELE.1001", []byte("{}"))
	require.NoError(t, err)
	assert.Len(t, ch.published, 1)
	// One dial from newConn plus one reconnect per failed attempt.
	assert.Equal(t, 3, *dials)
}

func TestPublish_ExhaustedAttempts_DropsMessage(t *testing.T) {
	ch := &fakeChannel{failuresLeft: 10}
	c, _ := newTestConn(t, ch)

	err := c.Publish(context.Background(), Exchange, "CHAT.1001", []byte("{}"))
	assert.ErrorIs(t, err, ErrDropped)
	assert.Empty(t, ch.published)
	// At most three attempts were made.
	assert.Equal(t, 10-publishAttempts, ch.failuresLeft)
}

func TestSubscribe_BindsPatternsAndDispatchesInOrder(t *testing.T) {
	deliveries := make(chan amqp.Delivery, 3)
	deliveries <- amqp.Delivery{RoutingKey: "CHAT.1", Body: []byte("a")}
	deliveries <- amqp.Delivery{RoutingKey: "CHAT.2", Body: []byte("b")}
	close(deliveries)

	ch := &fakeChannel{deliveries: deliveries}
	c, _ := newTestConn(t, ch)

	var got []string
	err := c.Subscribe(context.Background(), Exchange, []string{"CHAT.#", "POS.*.1001"}, func(key string, body []byte) {
		got = append(got, key+":"+string(body))
	})
	require.Error(t, err) // closed stream surfaces as an error
	assert.Equal(t, []string{"zlogger/CHAT.#", "zlogger/POS.*.1001"}, ch.bindings)
	assert.Equal(t, []string{"CHAT.1:a", "CHAT.2:b"}, got)
}
