// Package testutil provides shared helpers for integration tests.
//
// Skip helpers call t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    url := testutil.RequireRemoteOracle(t)
//	    ...
//	}
package testutil

import (
	"math"
	"os"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"

	"github.com/example/go-rtmusic/internal/audio"
)

// RemoteOracleEnv names the environment variable holding the websocket URL
// of a real inference server.
const RemoteOracleEnv = "RTMUSIC_ORACLE_URL"

// RequireRemoteOracle skips the test unless RTMUSIC_ORACLE_URL is set and
// returns its value.
func RequireRemoteOracle(tb testing.TB) string {
	tb.Helper()

	url := os.Getenv(RemoteOracleEnv)
	if url == "" {
		tb.Skipf("remote oracle not configured; set %s to a ws:// URL", RemoteOracleEnv)
	}
	return url
}

// StartNATS runs an in-process NATS server with JetStream enabled on a random
// port. It is shut down when the test ends.
func StartNATS(tb testing.TB) *natsserver.Server {
	tb.Helper()

	opts := natstest.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = tb.TempDir()
	srv := natstest.RunServer(&opts)
	tb.Cleanup(srv.Shutdown)
	return srv
}

// SineWAV returns a 16-bit mono WAV clip of a 220 Hz tone.
func SineWAV(tb testing.TB, sampleRate int, d time.Duration) []byte {
	tb.Helper()

	samples := make([]float32, audio.SamplesFor(d, sampleRate))
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate)))
	}
	wav, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		tb.Fatalf("encode fixture wav: %v", err)
	}
	return wav
}
