package display

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/topobus/internal/topicmgr"
	"github.com/nfrund/topobus/internal/topology"
)

func testRegistry() *topology.Registry {
	return topology.NewRegistry(7, map[string]topology.RoutingInfo{
		"order.created": {Exchange: "orders", RoutingKey: "order.created"},
		"order.paid":    {Exchange: "payments", RoutingKey: "order.paid"},
	}, nil)
}

func TestRoutes_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Routes(&buf, "table", testRegistry(), []string{"order.created", "order.shipped"}))

	out := buf.String()
	assert.Contains(t, out, "Registry version 7")
	assert.Contains(t, out, "orders.order.created")
	assert.Contains(t, out, "(no route)")
	assert.NotContains(t, out, "order.paid")
}

func TestRoutes_JSONListsEverything(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Routes(&buf, "json", testRegistry(), nil))

	var out struct {
		Version int64          `json:"version"`
		Routes  []RouteDisplay `json:"routes"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, int64(7), out.Version)
	require.Len(t, out.Routes, 2)
	assert.Equal(t, "order.created", out.Routes[0].EventType)
	assert.Equal(t, "payments.order.paid", out.Routes[1].Topic)
}

func TestTopics(t *testing.T) {
	catalog := topicmgr.NewManager()
	require.NoError(t, topology.RegisterProtocol(catalog))

	var buf bytes.Buffer
	require.NoError(t, Topics(&buf, "table", catalog.List()))
	assert.Contains(t, buf.String(), topology.EventRegisterClient)

	buf.Reset()
	require.NoError(t, Topics(&buf, "json", catalog.ListFrameworkTopics()))
	assert.Contains(t, buf.String(), `"count": 6`)

	assert.Error(t, Topics(&buf, "xml", nil))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abcdefg...", truncateString("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncateString("abcdef", 2))
}
