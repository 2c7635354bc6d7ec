package dsu_test

import (
	"encoding/binary"
	"hash/crc32"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isaacs-12/nso-gc-bridge/controller"
	"github.com/isaacs-12/nso-gc-bridge/dsu"
	dsuserver "github.com/isaacs-12/nso-gc-bridge/internal/server/dsu"
	"github.com/isaacs-12/nso-gc-bridge/internal/log"
	"github.com/isaacs-12/nso-gc-bridge/internal/testing/testutil"
)

func startServer(t *testing.T, config dsuserver.ServerConfig) *dsuserver.Server {
	t.Helper()
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.PushInterval == 0 {
		config.PushInterval = 4 * time.Millisecond
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 2 * time.Millisecond
	}
	srv := dsuserver.New(config, testutil.Logger(t), log.NewRaw(nil))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-srv.Ready():
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(time.Second):
		t.Fatal("server not ready in time")
	}
	t.Cleanup(func() {
		srv.Close()
		select {
		case <-errCh:
		case <-time.After(time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

func dial(t *testing.T, srv *dsuserver.Server) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: srv.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func clientPacket(clientID, msgType uint32, payload []byte) []byte {
	pkt := make([]byte, dsu.HeaderLen+4+len(payload))
	copy(pkt, dsu.ClientMagic)
	binary.LittleEndian.PutUint16(pkt[4:], dsu.ProtocolVersion)
	binary.LittleEndian.PutUint16(pkt[6:], uint16(4+len(payload)))
	binary.LittleEndian.PutUint32(pkt[12:], clientID)
	binary.LittleEndian.PutUint32(pkt[16:], msgType)
	copy(pkt[20:], payload)
	binary.LittleEndian.PutUint32(pkt[8:], crc32.ChecksumIEEE(pkt))
	return pkt
}

func readPacket(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	buf := make([]byte, 1024)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestServerVersionExchange(t *testing.T) {
	srv := startServer(t, dsuserver.ServerConfig{})
	conn := dial(t, srv)

	_, err := conn.Write(clientPacket(0xABCD, dsu.MsgTypeVersion, nil))
	require.NoError(t, err)

	pkt := readPacket(t, conn)
	require.Len(t, pkt, 24)
	assert.Equal(t, dsu.ServerMagic, string(pkt[0:4]))
	assert.True(t, dsu.VerifyChecksum(pkt))
	assert.Equal(t, uint32(0xABCD), binary.LittleEndian.Uint32(pkt[12:]))
	assert.Equal(t, uint16(dsu.ProtocolVersion), binary.LittleEndian.Uint16(pkt[20:]))
}

func TestServerPadInfo(t *testing.T) {
	srv := startServer(t, dsuserver.ServerConfig{})
	_, err := srv.AttachPad(0, dsu.ConnTypeUSB)
	require.NoError(t, err)
	conn := dial(t, srv)

	// ask about slots 0 and 1; only 0 is attached
	payload := []byte{2, 0, 0, 0, 0, 1}
	_, err = conn.Write(clientPacket(1, dsu.MsgTypePadInfo, payload))
	require.NoError(t, err)

	bySlot := map[byte][]byte{}
	for i := 0; i < 2; i++ {
		pkt := readPacket(t, conn)
		require.Len(t, pkt, 32)
		require.True(t, dsu.VerifyChecksum(pkt))
		bySlot[pkt[20]] = pkt
	}

	require.Contains(t, bySlot, byte(0))
	require.Contains(t, bySlot, byte(1))
	assert.Equal(t, byte(0x02), bySlot[0][21], "slot 0 connected")
	assert.Equal(t, byte(dsu.ConnTypeUSB), bySlot[0][23])
	assert.Equal(t, byte(0x00), bySlot[1][21], "slot 1 not connected")
}

func TestServerPadDataPush(t *testing.T) {
	srv := startServer(t, dsuserver.ServerConfig{})
	pad, err := srv.AttachPad(0, dsu.ConnTypeBLE)
	require.NoError(t, err)
	conn := dial(t, srv)

	pad.Publish(controller.State{
		Buttons:  controller.Buttons(controller.ButtonA),
		TriggerR: 77,
	})

	// subscribing to slot 0 yields an immediate reply
	_, err = conn.Write(clientPacket(9, dsu.MsgTypePadData, []byte{0x01, 0x00, 0, 0, 0, 0, 0, 0}))
	require.NoError(t, err)

	pkt := readPacket(t, conn)
	require.Len(t, pkt, 100)
	assert.True(t, dsu.VerifyChecksum(pkt))
	assert.Equal(t, byte(0), pkt[20])
	assert.Equal(t, byte(dsu.ConnTypeBLE), pkt[23])
	assert.Equal(t, byte(0x20), pkt[37]&0x20, "cross bit set")
	assert.Equal(t, byte(77), pkt[55])
	counter := binary.LittleEndian.Uint32(pkt[32:])

	// later pushes keep flowing without further requests and the counter
	// climbs
	pkt = readPacket(t, conn)
	require.Len(t, pkt, 100)
	assert.Greater(t, binary.LittleEndian.Uint32(pkt[32:]), counter)
	assert.Equal(t, byte(0), pkt[37]&0x20, "press consumed by the first packet")
}

func TestServerPortFallback(t *testing.T) {
	base, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer base.Close()
	taken := base.LocalAddr().(*net.UDPAddr).Port

	srv := startServer(t, dsuserver.ServerConfig{Port: taken, PortFallbacks: 4})
	assert.Greater(t, srv.Port(), taken)
	assert.LessOrEqual(t, srv.Port(), taken+4)
}

func TestServerAttachPadValidation(t *testing.T) {
	srv := dsuserver.New(dsuserver.ServerConfig{Host: "127.0.0.1"}, testutil.Logger(t), log.NewRaw(nil))

	_, err := srv.AttachPad(4, dsu.ConnTypeUSB)
	assert.Error(t, err, "slot out of range")

	_, err = srv.AttachPad(2, dsu.ConnTypeUSB)
	require.NoError(t, err)
	_, err = srv.AttachPad(2, dsu.ConnTypeUSB)
	assert.Error(t, err, "duplicate slot")
}
