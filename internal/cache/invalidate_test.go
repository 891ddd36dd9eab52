package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	all    int
	months []time.Time
	err    error
}

func (r *recorder) InvalidateAll(context.Context) error {
	r.all++
	return r.err
}

func (r *recorder) InvalidateMonth(_ context.Context, m time.Time) error {
	r.months = append(r.months, m)
	return r.err
}

type fakeConn struct {
	subject string
	data    [][]byte
	err     error
	handler nats.MsgHandler
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = append(f.data, data)
	return f.err
}

func (f *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.subject = subject
	f.handler = cb
	return &nats.Subscription{Subject: subject}, f.err
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{err: errors.New("boom")}
	m := Multi{a, nil, b}
	jun := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

	err := m.InvalidateMonth(context.Background(), jun)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []time.Time{jun}, a.months)
	assert.Equal(t, []time.Time{jun}, b.months)

	require.Error(t, m.InvalidateAll(context.Background()))
	assert.Equal(t, 1, a.all)
	assert.Equal(t, 1, b.all)

	assert.NoError(t, Multi{a}.InvalidateAll(context.Background()))
}

func TestNATSPublisher(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "")

	require.NoError(t, p.InvalidateMonth(context.Background(), time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, p.InvalidateAll(context.Background()))

	assert.Equal(t, DefaultSubject, conn.subject)
	require.Len(t, conn.data, 2)
	assert.JSONEq(t, `{"scope":"month","month":"2024-03"}`, string(conn.data[0]))
	assert.JSONEq(t, `{"scope":"all"}`, string(conn.data[1]))

	conn.err = errors.New("nats: connection closed")
	assert.Error(t, p.InvalidateAll(context.Background()))
}

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantAll int
		wantMon int
		wantErr bool
	}{
		{"all", `{"scope":"all"}`, 1, 0, false},
		{"month", `{"scope":"month","month":"2024-05"}`, 0, 1, false},
		{"bad month", `{"scope":"month","month":"May"}`, 0, 0, true},
		{"unknown scope", `{"scope":"tile"}`, 0, 0, true},
		{"not json", `nope`, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			err := Apply(context.Background(), r, []byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAll, r.all)
			assert.Len(t, r.months, tt.wantMon)
		})
	}
}

func TestSubscribe_BridgesIntoLocalCache(t *testing.T) {
	conn := &fakeConn{}
	now := time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)
	local := fixedCache(10, time.Hour, &now)
	local.Put("k", snap(2))

	sub, err := Subscribe(conn, "custom.subject", local)
	require.NoError(t, err)
	assert.Equal(t, "custom.subject", sub.Subject)
	require.NotNil(t, conn.handler)

	data, err := json.Marshal(Event{Scope: ScopeMonth, Month: "2023-01"})
	require.NoError(t, err)
	conn.handler(&nats.Msg{Subject: "custom.subject", Data: data})
	assert.NotNil(t, local.Get("k"))

	data, err = json.Marshal(Event{Scope: ScopeMonth, Month: "2024-05"})
	require.NoError(t, err)
	conn.handler(&nats.Msg{Subject: "custom.subject", Data: data})
	assert.Nil(t, local.Get("k"))

	// Malformed events are dropped without panicking.
	conn.handler(&nats.Msg{Subject: "custom.subject", Data: []byte("{")})
}

func TestSubscribe_Error(t *testing.T) {
	_, err := Subscribe(&fakeConn{err: errors.New("no conn")}, "", &recorder{})
	assert.Error(t, err)
}
