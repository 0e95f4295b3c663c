package mqttclient

import (
	"context"
	"crypto/hmac"
	"encoding/base64"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"

	"github.com/vitalvas/mqttclient/packet"
)

// scramServer is the broker side of one SCRAM exchange, used to check the
// client against an independent computation.
type scramServer struct {
	hash       SCRAMHash
	password   string
	salt       []byte
	iterations int
	nonce      string

	clientFirstBare string
	serverFirst     string
}

func newSCRAMServer(hash SCRAMHash, password string) *scramServer {
	return &scramServer{
		hash:       hash,
		password:   password,
		salt:       []byte("test-salt-1234"),
		iterations: 4096,
		nonce:      "server-nonce",
	}
}

func (s *scramServer) first(t *testing.T, clientFirst string) string {
	t.Helper()

	require.True(t, strings.HasPrefix(clientFirst, "n,,"))
	s.clientFirstBare = strings.TrimPrefix(clientFirst, "n,,")
	fields := parseScramMessage(s.clientFirstBare)

	s.serverFirst = "r=" + fields["r"] + s.nonce +
		",s=" + base64.StdEncoding.EncodeToString(s.salt) +
		",i=" + strconv.Itoa(s.iterations)
	return s.serverFirst
}

// final verifies the client proof and returns the server-final-message.
func (s *scramServer) final(t *testing.T, clientFinal string) (string, bool) {
	t.Helper()

	idx := strings.LastIndex(clientFinal, ",p=")
	require.Positive(t, idx)
	clientFinalBare := clientFinal[:idx]
	proof, err := base64.StdEncoding.DecodeString(clientFinal[idx+3:])
	require.NoError(t, err)

	hashFunc := s.hash.hashFunc()
	salted := pbkdf2.Key([]byte(s.password), s.salt, s.iterations, s.hash.keySize(), hashFunc)
	clientKey := scramHMAC(hashFunc, salted, "Client Key")
	h := hashFunc()
	h.Write(clientKey)
	storedKey := h.Sum(nil)

	authMessage := s.clientFirstBare + "," + s.serverFirst + "," + clientFinalBare
	clientSignature := scramHMAC(hashFunc, storedKey, authMessage)

	recovered := make([]byte, len(proof))
	for i := range proof {
		recovered[i] = proof[i] ^ clientSignature[i]
	}
	h = hashFunc()
	h.Write(recovered)
	if !hmac.Equal(h.Sum(nil), storedKey) {
		return "e=invalid-proof", false
	}

	serverSignature := scramHMAC(hashFunc, scramHMAC(hashFunc, salted, "Server Key"), authMessage)
	return "v=" + base64.StdEncoding.EncodeToString(serverSignature), true
}

func TestSCRAMHashString(t *testing.T) {
	assert.Equal(t, "SCRAM-SHA-1", SCRAMHashSHA1.String())
	assert.Equal(t, "SCRAM-SHA-256", SCRAMHashSHA256.String())
	assert.Equal(t, "SCRAM-SHA-512", SCRAMHashSHA512.String())
	assert.Equal(t, "SCRAM-SHA-256", SCRAMHash(99).String())
}

func TestSCRAMHashKeySize(t *testing.T) {
	assert.Equal(t, 20, SCRAMHashSHA1.keySize())
	assert.Equal(t, 32, SCRAMHashSHA256.keySize())
	assert.Equal(t, 64, SCRAMHashSHA512.keySize())
}

func TestSCRAMClient(t *testing.T) {
	ctx := context.Background()

	exchange := func(t *testing.T, hash SCRAMHash) {
		t.Helper()

		client := NewSCRAMClient(hash, "user", "pencil")
		server := newSCRAMServer(hash, "pencil")
		assert.Equal(t, hash.String(), client.AuthMethod())

		start, err := client.AuthStart(ctx)
		require.NoError(t, err)
		assert.False(t, start.Done)

		serverFirst := server.first(t, string(start.AuthData))
		cont, err := client.AuthContinue(ctx, &ClientEnhancedAuthContext{
			AuthData: []byte(serverFirst),
			State:    start.State,
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(cont.AuthData), "c=biws,r="))

		serverFinal, ok := server.final(t, string(cont.AuthData))
		require.True(t, ok, "server rejected the client proof")

		done, err := client.AuthContinue(ctx, &ClientEnhancedAuthContext{
			AuthData: []byte(serverFinal),
			State:    cont.State,
		})
		require.NoError(t, err)
		assert.True(t, done.Done)
	}

	t.Run("SCRAM-SHA-1", func(t *testing.T) { exchange(t, SCRAMHashSHA1) })
	t.Run("SCRAM-SHA-256", func(t *testing.T) { exchange(t, SCRAMHashSHA256) })
	t.Run("SCRAM-SHA-512", func(t *testing.T) { exchange(t, SCRAMHashSHA512) })

	t.Run("client first message", func(t *testing.T) {
		client := NewSCRAMClient(SCRAMHashSHA256, "a,b=c", "pw")
		client.nonce = func() string { return "fixed" }

		start, err := client.AuthStart(ctx)
		require.NoError(t, err)
		assert.Equal(t, "n,,n=a=2Cb=3Dc,r=fixed", string(start.AuthData))
	})

	t.Run("wrong password", func(t *testing.T) {
		client := NewSCRAMClient(SCRAMHashSHA256, "user", "wrong")
		server := newSCRAMServer(SCRAMHashSHA256, "pencil")

		start, _ := client.AuthStart(ctx)
		serverFirst := server.first(t, string(start.AuthData))
		cont, err := client.AuthContinue(ctx, &ClientEnhancedAuthContext{AuthData: []byte(serverFirst), State: start.State})
		require.NoError(t, err)

		serverFinal, ok := server.final(t, string(cont.AuthData))
		assert.False(t, ok)

		_, err = client.AuthContinue(ctx, &ClientEnhancedAuthContext{AuthData: []byte(serverFinal), State: cont.State})
		assert.ErrorContains(t, err, "invalid-proof")
	})

	t.Run("forged server signature", func(t *testing.T) {
		client := NewSCRAMClient(SCRAMHashSHA256, "user", "pencil")
		server := newSCRAMServer(SCRAMHashSHA256, "pencil")

		start, _ := client.AuthStart(ctx)
		serverFirst := server.first(t, string(start.AuthData))
		cont, err := client.AuthContinue(ctx, &ClientEnhancedAuthContext{AuthData: []byte(serverFirst), State: start.State})
		require.NoError(t, err)

		forged := "v=" + base64.StdEncoding.EncodeToString([]byte("not-the-signature"))
		_, err = client.AuthContinue(ctx, &ClientEnhancedAuthContext{AuthData: []byte(forged), State: cont.State})
		assert.ErrorIs(t, err, ErrSCRAMServerSignature)
	})

	t.Run("server final before server first", func(t *testing.T) {
		client := NewSCRAMClient(SCRAMHashSHA256, "user", "pencil")
		start, _ := client.AuthStart(ctx)

		_, err := client.AuthContinue(ctx, &ClientEnhancedAuthContext{AuthData: []byte("v=AAAA"), State: start.State})
		assert.ErrorIs(t, err, ErrSCRAMServerSignature)
	})

	invalid := []struct {
		name string
		msg  func(clientNonce string) string
	}{
		{"nonce mismatch", func(string) string { return "r=other,s=c2FsdA==,i=4096" }},
		{"nonce not extended", func(n string) string { return "r=" + n + ",s=c2FsdA==,i=4096" }},
		{"bad salt", func(n string) string { return "r=" + n + "x,s=!!!,i=4096" }},
		{"bad iterations", func(n string) string { return "r=" + n + "x,s=c2FsdA==,i=zero" }},
		{"zero iterations", func(n string) string { return "r=" + n + "x,s=c2FsdA==,i=0" }},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			client := NewSCRAMClient(SCRAMHashSHA256, "user", "pencil")
			client.nonce = func() string { return "cnonce" }
			start, _ := client.AuthStart(ctx)

			_, err := client.AuthContinue(ctx, &ClientEnhancedAuthContext{
				AuthData: []byte(tt.msg("cnonce")),
				State:    start.State,
			})
			assert.ErrorIs(t, err, ErrSCRAMInvalidMessage)
		})
	}

	t.Run("missing state", func(t *testing.T) {
		client := NewSCRAMClient(SCRAMHashSHA256, "user", "pencil")

		_, err := client.AuthContinue(ctx, &ClientEnhancedAuthContext{AuthData: []byte("r=x")})
		assert.ErrorIs(t, err, ErrSCRAMInvalidMessage)
	})
}

func TestParseScramMessage(t *testing.T) {
	fields := parseScramMessage("r=abc,s=c2FsdA==,i=4096,x,=bad")

	assert.Equal(t, "abc", fields["r"])
	assert.Equal(t, "c2FsdA==", fields["s"])
	assert.Equal(t, "4096", fields["i"])
	assert.Len(t, fields, 3)
}

func TestGenerateScramNonce(t *testing.T) {
	a := generateScramNonce()
	b := generateScramNonce()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, ",")
}

func TestClientSCRAMHandshake(t *testing.T) {
	exchange := func(t *testing.T, c *brokerConn, server *scramServer, connect *packet.Connect) (string, bool) {
		t.Helper()

		assert.Equal(t, "SCRAM-SHA-256", connect.Props.GetString(packet.PropAuthenticationMethod))
		serverFirst := server.first(t, string(connect.Props.GetBinary(packet.PropAuthenticationData)))

		challenge := &packet.Auth{ReasonCode: packet.ReasonContinueAuth}
		challenge.Props.Set(packet.PropAuthenticationMethod, "SCRAM-SHA-256")
		challenge.Props.Set(packet.PropAuthenticationData, []byte(serverFirst))
		c.write(t, challenge)

		resp := expectPacket[*packet.Auth](t, c)
		return server.final(t, string(resp.Data()))
	}

	t.Run("success", func(t *testing.T) {
		b := newMockBroker(t)
		rec := newEventRecorder()
		startClient(t, b,
			WithEnhancedAuthentication(NewSCRAMClient(SCRAMHashSHA256, "user", "pencil")),
			OnEvent(rec.handler),
		)

		c := b.accept(t)
		connect := expectPacket[*packet.Connect](t, c)
		serverFinal, ok := exchange(t, c, newSCRAMServer(SCRAMHashSHA256, "pencil"), connect)
		require.True(t, ok)

		connack := &packet.Connack{}
		connack.Props.Set(packet.PropAuthenticationMethod, "SCRAM-SHA-256")
		connack.Props.Set(packet.PropAuthenticationData, []byte(serverFinal))
		c.write(t, connack)

		rec.waitFor(t, ErrConnected)
	})

	t.Run("forged server signature", func(t *testing.T) {
		b := newMockBroker(t)
		rec := newEventRecorder()
		startClient(t, b,
			WithEnhancedAuthentication(NewSCRAMClient(SCRAMHashSHA256, "user", "pencil")),
			OnEvent(rec.handler),
		)

		c := b.accept(t)
		connect := expectPacket[*packet.Connect](t, c)
		_, ok := exchange(t, c, newSCRAMServer(SCRAMHashSHA256, "pencil"), connect)
		require.True(t, ok)

		connack := &packet.Connack{}
		connack.Props.Set(packet.PropAuthenticationMethod, "SCRAM-SHA-256")
		connack.Props.Set(packet.PropAuthenticationData, []byte("v="+base64.StdEncoding.EncodeToString([]byte("forged"))))
		c.write(t, connack)

		disconnect := expectPacket[*packet.Disconnect](t, c)
		assert.Equal(t, packet.ReasonNotAuthorized, disconnect.ReasonCode)

		event := rec.waitFor(t, ErrReconnecting)
		var reconnect *ReconnectEvent
		require.ErrorAs(t, event, &reconnect)
		assert.ErrorIs(t, reconnect.Cause, ErrAuthFailed)
		assert.ErrorIs(t, reconnect.Cause, ErrSCRAMServerSignature)
	})
}
