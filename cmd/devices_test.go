package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevicesCmd_PrintsScreenSummary(t *testing.T) {
	resetForTest(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/screen-info", r.URL.Path)
		fmt.Fprint(w, `{
			"base64": "",
			"width": 1080,
			"height": 2400,
			"platform": "android",
			"focusedAppInfo": "com.android.settings",
			"elements": [
				{"resource-id": "root", "bounds": "[0,0][1080,2400]", "children": [
					{"text": "Settings", "bounds": "[0,0][1080,120]"}
				]}
			]
		}`)
	}))
	defer server.Close()

	path := t.TempDir() + "/config.yaml"
	configYAML := fmt.Sprintf("device:\n  screen_api_url: %s\n", server.URL)
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	out, err := executeCommand(t, "--config", path, "devices")
	require.NoError(t, err)

	assert.Contains(t, out, "platform: android")
	assert.Contains(t, out, "screen:   1080x2400")
	assert.Contains(t, out, "focused:  com.android.settings")
	assert.Contains(t, out, "elements: 2")
}

func TestDevicesCmd_BridgeUnreachable(t *testing.T) {
	resetForTest(t)

	path := t.TempDir() + "/config.yaml"
	configYAML := "device:\n  screen_api_url: http://127.0.0.1:1\n"
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--config", path, "devices"})
	err := rootCmd.ExecuteContext(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}
