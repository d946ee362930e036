package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/meek/pkg/types"
)

func TestHandleListNodes(t *testing.T) {
	srv, s := setupTestServer(t)
	_, err := s.UpsertNode(context.Background(), &types.Node{
		MACAddress: "AA:01", Status: types.NodeOnline, Active: true, MaxTasks: 4,
	})
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodGet, "/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeBody(t, rec, &resp)
	require.Len(t, resp["nodes"], 1)
}
