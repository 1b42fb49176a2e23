package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaya7oast/FSDP-sub000/pkg/logger"
)

func TestConnectOptions(t *testing.T) {
	log := logger.NewNop()

	base, err := connectOptions(Config{URL: "nats://localhost:4222"}, log)
	require.NoError(t, err)

	full, err := connectOptions(Config{
		URL:      "nats://localhost:4222",
		CAFile:   "ca.pem",
		CertFile: "client.pem",
		KeyFile:  "client-key.pem",
		Token:    "s3cret",
	}, log)
	require.NoError(t, err)
	assert.Len(t, full, len(base)+3)
}

func TestConnectOptionsRequiresCertAndKeyTogether(t *testing.T) {
	_, err := connectOptions(Config{CertFile: "client.pem"}, logger.NewNop())
	assert.ErrorContains(t, err, "must be set together")

	_, err = connectOptions(Config{KeyFile: "client-key.pem"}, logger.NewNop())
	assert.Error(t, err)
}
