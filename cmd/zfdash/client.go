package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zfdash/zfdash/internal/config"
	"github.com/zfdash/zfdash/internal/ipcclient"
)

// runClient drives the client-side modes: one-shot daemon lifecycle flags,
// or a single command executed through the client runtime. UIs link the
// runtime directly; this entry point is the scriptable surface.
func runClient(cmd *cobra.Command, args []string) error {
	uid := os.Getuid()
	gid := os.Getgid()

	if given, path := optPath(cmd, "launch-daemon", flagLaunchDaemon); given {
		self, err := os.Executable()
		if err != nil {
			return errors.Wrap(err, "locating executable")
		}
		return ipcclient.LaunchSocketDaemon(self, uid, gid, path)
	}
	if given, path := optPath(cmd, "stop-daemon", flagStopDaemon); given {
		return ipcclient.StopSocketDaemon(path, uid)
	}

	client, err := connectClient(cmd, uid, gid)
	if err != nil {
		return err
	}
	defer client.Close()

	settings := config.LoadSettings("")
	client.LogEnabled = settings.LoggingEnabled

	command := "list_pools"
	var cmdArgs []interface{}
	kwargs := map[string]interface{}{}
	if len(args) > 0 {
		command = args[0]
		for _, raw := range args[1:] {
			var v interface{}
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				v = raw // bare strings need no quoting
			}
			cmdArgs = append(cmdArgs, v)
		}
	}
	if command == "change_password" && len(cmdArgs) == 0 {
		username, password, err := promptCredentials()
		if err != nil {
			return err
		}
		kwargs["username"] = username
		kwargs["new_password"] = password
	}

	resp, err := client.Request(command, cmdArgs, kwargs, ipcclient.ActionTimeout)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp.Data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding response")
	}
	fmt.Println(string(out))
	return nil
}

func connectClient(cmd *cobra.Command, uid, gid int) (*ipcclient.Client, error) {
	socketGiven, socketPath := optPath(cmd, "socket", flagSocket)
	connectGiven, connectPath := optPath(cmd, "connect-socket", flagConnectSocket)

	switch {
	case socketGiven && connectGiven:
		return nil, errors.New("--socket and --connect-socket are mutually exclusive")
	case socketGiven:
		self, err := os.Executable()
		if err != nil {
			return nil, errors.Wrap(err, "locating executable")
		}
		return ipcclient.EnsureSocketDaemon(self, uid, gid, socketPath)
	case connectGiven:
		return ipcclient.ConnectSocket(connectPath, uid)
	default:
		self, err := os.Executable()
		if err != nil {
			return nil, errors.Wrap(err, "locating executable")
		}
		return ipcclient.LaunchPipeDaemon(self, uid, gid)
	}
}
