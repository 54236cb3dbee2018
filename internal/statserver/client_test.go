package statserver

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/stats"
)

func TestClient(t *testing.T) {
	t.Parallel()

	h, store, _ := newTestHandler(t)

	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	client := NewClient(server.URL + "/")

	info, err := client.CreateTarget(t.Context(), "proxy0", []string{"/dev/loop0"})
	require.NoError(t, err)
	assert.Equal(t, "proxy0", info.Name)

	_, err = client.CreateTarget(t.Context(), "proxy0", []string{"/dev/loop0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	infos, err := client.ListTargets(t.Context())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "/dev/loop0", infos[0].Backing)

	store.Add(stats.Read, 100)
	store.Add(stats.Read, 101)

	report, err := client.Volumes(t.Context())
	require.NoError(t, err)
	assert.Equal(t,
		"read:\n reqs: 2\n avg size: 100\n"+
			"write:\n reqs: 0\n avg size: 0\n"+
			"total:\n reqs: 2\n avg size: 100\n",
		report,
	)

	require.NoError(t, client.RemoveTarget(t.Context(), "proxy0"))
	require.Error(t, client.RemoveTarget(t.Context(), "proxy0"))
}
