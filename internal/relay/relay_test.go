package relay_test

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samtec-ASH/govisainstrument/internal/relay"
	"github.com/Samtec-ASH/govisainstrument/internal/sim"
	"github.com/Samtec-ASH/govisainstrument/internal/simtest"
	"github.com/Samtec-ASH/govisainstrument/internal/visa"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    relay.Address
		wantErr bool
	}{
		{in: "TCP::192.168.1.50", want: relay.Address{Transport: relay.TransportTCP, Target: "192.168.1.50:23"}},
		{in: "tcp::relay.local:2323", want: relay.Address{Transport: relay.TransportTCP, Target: "relay.local:2323"}},
		{in: "USB::/dev/ttyACM0", want: relay.Address{Transport: relay.TransportUSB, Target: "/dev/ttyACM0"}},
		{in: "COM4", want: relay.Address{Transport: relay.TransportUSB, Target: "COM4"}},
		{in: "GPIB::4", wantErr: true},
		{in: "TCP::", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := relay.ParseAddress(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, visa.ErrUnsupportedAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type recorder struct {
	mu        sync.Mutex
	exchanges []visa.Exchange
}

func (r *recorder) Observe(e visa.Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges = append(r.exchanges, e)
}

func (r *recorder) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.exchanges {
		if e.Op == visa.OpQuery {
			out = append(out, e.Command)
		}
	}
	return out
}

func openTelnet(t *testing.T, dev *sim.Relay, cfg relay.Config, opts ...relay.Option) *relay.Relay {
	t.Helper()
	r := relay.New("relay", simtest.StartRelay(t, dev), cfg, opts...)
	require.NoError(t, r.Open(context.Background()))
	t.Cleanup(func() { r.Close(context.Background()) })
	return r
}

func TestTelnet_Channels(t *testing.T) {
	ctx := context.Background()
	dev := sim.NewRelay("relay", sim.RelayOptions{Channels: 4, Login: true})
	rec := &recorder{}
	r := openTelnet(t, dev, relay.Config{Channels: 4, Delay: -1}, relay.WithObserver(rec))
	assert.True(t, r.IsOpen())

	version, err := r.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "00000008", version)

	require.NoError(t, r.CloseChannel(ctx, 2))
	closed, err := r.IsChannelClosed(ctx, 2)
	require.NoError(t, err)
	assert.True(t, closed)
	open, err := r.IsChannelOpen(ctx, 1)
	require.NoError(t, err)
	assert.True(t, open)

	require.NoError(t, r.CloseAllChannels(ctx))
	assert.Equal(t, []bool{true, true, true, true}, dev.Snapshot().(sim.RelaySnapshot).On)
	require.NoError(t, r.OpenChannels(ctx, []int{0, 3}))
	assert.Equal(t, []bool{false, true, true, false}, dev.Snapshot().(sim.RelaySnapshot).On)
	require.NoError(t, r.OpenAllChannels(ctx))
	assert.Equal(t, []bool{false, false, false, false}, dev.Snapshot().(sim.RelaySnapshot).On)

	assert.Equal(t, []string{"ver", "relay on 2", "relay read 2", "relay read 1"}, rec.commands()[:4])
	assert.Equal(t, 1, dev.Snapshot().(sim.RelaySnapshot).Logins)
}

func TestTelnet_LoginFailed(t *testing.T) {
	dev := sim.NewRelay("relay", sim.RelayOptions{Login: true, Password: "secret"})
	r := relay.New("relay", simtest.StartRelay(t, dev), relay.Config{User: "admin", Password: "wrong"})

	err := r.Open(context.Background())
	assert.ErrorIs(t, err, relay.ErrLogin)
	assert.False(t, r.IsOpen())
}

func TestTelnet_LoginLineEnding(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	sent := make(chan string, 2)
	go func() {
		defer server.Close()
		br := bufio.NewReader(server)
		var got strings.Builder
		for _, prompt := range []string{"User Name: ", "Password: "} {
			if _, err := server.Write([]byte(prompt)); err != nil {
				return
			}
			for !strings.HasSuffix(got.String(), "\n\r") {
				b, err := br.ReadByte()
				if err != nil {
					return
				}
				got.WriteByte(b)
			}
			sent <- got.String()
			got.Reset()
		}
		server.Write([]byte("\r\nLogged in successfully\r\n>"))
	}()

	dial := func(ctx context.Context, addr relay.Address, cfg relay.Config) (visa.Conn, error) {
		return client, nil
	}
	r := relay.New("relay", "TCP::relay.lab", relay.Config{User: "admin", Password: "admin", Timeout: 2 * time.Second}, relay.WithDialer(dial))
	require.NoError(t, r.Open(context.Background()))
	t.Cleanup(func() { r.Close(context.Background()) })
	assert.Equal(t, "admin\n\r", <-sent)
	assert.Equal(t, "admin\n\r", <-sent)
}

func TestChannelRange(t *testing.T) {
	ctx := context.Background()
	dev := sim.NewRelay("relay", sim.RelayOptions{Channels: 4, Login: true})
	rec := &recorder{}
	r := openTelnet(t, dev, relay.Config{Channels: 4}, relay.WithObserver(rec))

	assert.Error(t, r.CloseChannel(ctx, 4))
	assert.Error(t, r.OpenChannel(ctx, -1))
	_, err := r.ChannelState(ctx, 9)
	assert.Error(t, err)
	assert.Empty(t, rec.commands())
}

func TestNotOpen(t *testing.T) {
	r := relay.New("relay", "TCP::127.0.0.1:1", relay.Config{})
	_, err := r.Version(context.Background())
	assert.ErrorIs(t, err, visa.ErrNotOpen)
	assert.NoError(t, r.Close(context.Background()))
}

// The USB console frames lines with "\n\r" and has no login; dial the
// simulator over TCP in its place.
func TestUSB_Console(t *testing.T) {
	ctx := context.Background()
	dev := sim.NewRelay("relay", sim.RelayOptions{Channels: 8})
	target := strings.TrimPrefix(simtest.StartRelay(t, dev), "TCP::")

	var dialed relay.Address
	dial := func(ctx context.Context, addr relay.Address, cfg relay.Config) (visa.Conn, error) {
		dialed = addr
		var d net.Dialer
		return d.DialContext(ctx, "tcp", target)
	}
	r := relay.New("relay", "USB::/dev/ttyACM0", relay.Config{Timeout: 2 * time.Second}, relay.WithDialer(dial))
	require.NoError(t, r.Open(ctx))
	t.Cleanup(func() { r.Close(ctx) })
	assert.Equal(t, relay.Address{Transport: relay.TransportUSB, Target: "/dev/ttyACM0"}, dialed)

	require.NoError(t, r.SetChannel(ctx, 7, true))
	on, err := r.ChannelState(ctx, 7)
	require.NoError(t, err)
	assert.True(t, on)
	require.NoError(t, r.SetChannel(ctx, 7, false))
	on, err = r.ChannelState(ctx, 7)
	require.NoError(t, err)
	assert.False(t, on)
	assert.Zero(t, dev.Snapshot().(sim.RelaySnapshot).Logins)
}
