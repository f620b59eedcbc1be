package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLoopbackAddress(t *testing.T) {
	for _, a := range []string{"127.0.0.1:8090", "[::1]:8090", "localhost:8090", "LOCALHOST", "127.0.0.2"} {
		assert.True(t, IsLoopbackAddress(a), a)
	}
	for _, a := range []string{":8090", "0.0.0.0:8090", "10.1.2.3:8090", "example.com:80", ""} {
		assert.False(t, IsLoopbackAddress(a), a)
	}
}

func TestCheckListen(t *testing.T) {
	assert.NoError(t, CheckListen("127.0.0.1:8090", "", false))
	assert.Error(t, CheckListen("0.0.0.0:8090", "", false))
	assert.NoError(t, CheckListen("0.0.0.0:8090", "s3cret", false))
	assert.Error(t, CheckListen("127.0.0.1:8090", " ", true))
	assert.NoError(t, CheckListen("127.0.0.1:8090", "s3cret", true))
}

func TestDeployRequiresHMAC(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "Production")
	assert.True(t, DeployRequiresHMAC())
	t.Setenv("DEPLOY_ENV", "dev")
	assert.False(t, DeployRequiresHMAC())
}
