package txn

import (
	"testing"

	"github.com/jbuchbinder/haproxy/internal/httpmsg"
	"github.com/stretchr/testify/assert"
)

func TestResyncPropagatesTunnelToBothSides(t *testing.T) {
	tx := NewTransaction(4096, 64)
	tx.ReqMsg.State = httpmsg.Tunnel
	tx.Resync()
	assert.Equal(t, httpmsg.Tunnel, tx.RespMsg.State)
	assert.Equal(t, ModeTunnel, tx.Mode)
}

func TestResyncAbortsOnResponseError(t *testing.T) {
	tx := NewTransaction(4096, 64)
	tx.RespMsg.State = httpmsg.Error
	tx.Resync()
	assert.True(t, tx.Aborted())
}

func TestResyncAbortsOnMutualClosed(t *testing.T) {
	tx := NewTransaction(4096, 64)
	tx.ReqMsg.State = httpmsg.Closed
	tx.RespMsg.State = httpmsg.Closed
	tx.Resync()
	assert.True(t, tx.Aborted())
}

func TestResyncServerCloseConvergesToEnd(t *testing.T) {
	tx := NewTransaction(4096, 64)
	tx.Mode = ModeServerClose
	tx.ReqMsg.State = httpmsg.Done
	tx.RespMsg.State = httpmsg.Done

	tx.Resync()
	assert.Equal(t, httpmsg.Closing, tx.ReqMsg.State)

	tx.Resync()
	assert.Equal(t, httpmsg.Closed, tx.ReqMsg.State)

	tx.Resync()
	assert.True(t, tx.Ended())
}

func TestResetClearsStateForKeepAliveReuse(t *testing.T) {
	tx := NewTransaction(4096, 64)
	tx.Mode = ModeForceClose
	tx.ReqMsg.State = httpmsg.Done
	tx.Reset()
	assert.Equal(t, ModeKeepAlive, tx.Mode)
	assert.False(t, tx.Ended())
	assert.False(t, tx.Aborted())
}
