package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ssargent/bepsilontree/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceCommands(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "betree_service_test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dataDir := filepath.Join(tmpDir, "data")
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Run("create systemd unit", func(t *testing.T) {
		cfg := &config.Config{
			DataDir: dataDir,
			Port:    8080,
			Bind:    "127.0.0.1",
			Security: config.Security{
				ClientAPIKey: "test-client-api-key",
			},
			Logging: config.Logging{
				Level: "info",
			},
		}

		user := "betree"
		err := createSystemdUnit(cfg, configPath, user)

		// The function may fail if not running as root, which is expected
		if err != nil {
			errorMsg := err.Error()
			assert.True(t, strings.Contains(errorMsg, "permission denied") ||
				strings.Contains(errorMsg, "no such file or directory") ||
				strings.Contains(errorMsg, "permission-denied"))
		} else {
			unitPath := "/etc/systemd/system/betree.service"
			if _, err := os.Stat(unitPath); err == nil {
				content, err := os.ReadFile(unitPath)
				require.NoError(t, err)
				assert.Contains(t, string(content), "User=betree")
				assert.Contains(t, string(content), "Group=betree")
				assert.Contains(t, string(content), configPath)
				assert.Contains(t, string(content), dataDir)
			}
		}
	})

	t.Run("systemd unit content", func(t *testing.T) {
		cfg := &config.Config{
			DataDir: "/var/lib/betree",
			Port:    9000,
			Bind:    "127.0.0.1",
			Security: config.Security{
				ClientAPIKey: "test-client-api-key",
			},
			Logging: config.Logging{
				Level: "info",
			},
		}

		user := "testuser"
		err := createSystemdUnit(cfg, "/etc/betree/config.yaml", user)

		if err != nil {
			errorMsg := err.Error()
			assert.True(t, strings.Contains(errorMsg, "permission denied") ||
				strings.Contains(errorMsg, "no such file or directory") ||
				strings.Contains(errorMsg, "permission-denied"))
		} else {
			unitPath := "/etc/systemd/system/betree.service"
			if _, err := os.Stat(unitPath); err == nil {
				content, err := os.ReadFile(unitPath)
				require.NoError(t, err)
				unitContent := string(content)
				assert.Contains(t, unitContent, "User=testuser")
				assert.Contains(t, unitContent, "Group=testuser")
				assert.Contains(t, unitContent, "/etc/betree/config.yaml")
				assert.Contains(t, unitContent, "/var/lib/betree")
			}
		}
	})

	t.Run("service command structure", func(t *testing.T) {
		assert.NotNil(t, serviceCmd)
		assert.Equal(t, "service", serviceCmd.Use)
		assert.Contains(t, serviceCmd.Short, "systemd")

		subCommands := serviceCmd.Commands()
		commandNames := make([]string, len(subCommands))
		for i, cmd := range subCommands {
			commandNames[i] = cmd.Use
		}

		assert.Contains(t, commandNames, "install")
		assert.Contains(t, commandNames, "start")
		assert.Contains(t, commandNames, "stop")
		assert.Contains(t, commandNames, "restart")
		assert.Contains(t, commandNames, "status")
		assert.Contains(t, commandNames, "logs")
		assert.Contains(t, commandNames, "uninstall")
	})

	t.Run("install service command flags", func(t *testing.T) {
		installFlags := installServiceCmd.Flags()

		dataDirFlag := installFlags.Lookup("data-dir")
		assert.NotNil(t, dataDirFlag)
		assert.Equal(t, "/var/lib/betree", dataDirFlag.DefValue)

		configFlag := installFlags.Lookup("config")
		assert.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		userFlag := installFlags.Lookup("user")
		assert.NotNil(t, userFlag)
		assert.Equal(t, "betree", userFlag.DefValue)

		portFlag := installFlags.Lookup("port")
		assert.NotNil(t, portFlag)
		assert.Equal(t, "8080", portFlag.DefValue)

		startFlag := installFlags.Lookup("start")
		assert.NotNil(t, startFlag)
		assert.Equal(t, "true", startFlag.DefValue)
	})

	t.Run("logs command flags", func(t *testing.T) {
		logsFlags := logsCmd.Flags()

		followFlag := logsFlags.Lookup("follow")
		assert.NotNil(t, followFlag)
		assert.Equal(t, "false", followFlag.DefValue)

		linesFlag := logsFlags.Lookup("lines")
		assert.NotNil(t, linesFlag)
		assert.Equal(t, "0", linesFlag.DefValue)
	})

	t.Run("systemd unit template validation", func(t *testing.T) {
		cfg := &config.Config{
			DataDir: "/test/data",
			Port:    8080,
			Bind:    "127.0.0.1",
			Security: config.Security{
				ClientAPIKey: "test-client-key",
			},
			Logging: config.Logging{
				Level: "info",
			},
		}

		user := "testuser"
		err := createSystemdUnit(cfg, "/test/config.yaml", user)

		if err != nil {
			errorMsg := err.Error()
			assert.True(t, strings.Contains(errorMsg, "permission denied") ||
				strings.Contains(errorMsg, "no such file or directory") ||
				strings.Contains(errorMsg, "permission-denied"))
		} else {
			unitPath := "/etc/systemd/system/betree.service"
			if _, err := os.Stat(unitPath); err == nil {
				content, err := os.ReadFile(unitPath)
				require.NoError(t, err)
				unitContent := string(content)

				assert.Contains(t, unitContent, "[Unit]")
				assert.Contains(t, unitContent, "[Service]")
				assert.Contains(t, unitContent, "[Install]")
				assert.Contains(t, unitContent, "Description=bepsilontree Server")
				assert.Contains(t, unitContent, "User=testuser")
				assert.Contains(t, unitContent, "Group=testuser")
				assert.Contains(t, unitContent, "Restart=on-failure")
				assert.Contains(t, unitContent, "WantedBy=multi-user.target")
			}
		}
	})
}

func TestServiceCommandErrorHandling(t *testing.T) {
	t.Run("create systemd unit with invalid path", func(t *testing.T) {
		cfg := config.DefaultConfig()
		// The unit file goes under /etc/systemd/system, so whether this succeeds depends on permissions
		err := createSystemdUnit(cfg, "/invalid/config.yaml", "testuser")
		_ = err // succeeds or fails depending on permissions; just verify it doesn't panic
	})
}
