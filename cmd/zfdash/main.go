package main

/*
	zfdash combines the privileged daemon and the unprivileged client entry
	points in one binary: the launcher re-invokes this executable through a
	privilege escalation tool with --daemon.
*/

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zfdash/zfdash/internal/daemon"
)

var version = "devel"

// optDefault marks an optional-path flag given without a value.
const optDefault = "\x00default"

var (
	flagDaemon bool
	flagUID    int
	flagGID    int

	flagListenSocket string
	flagAgent        bool
	flagAgentPort    int
	flagNoTLS        bool

	flagSocket        string
	flagConnectSocket string
	flagLaunchDaemon  string
	flagStopDaemon    string

	flagDebug bool

	cmdRoot = &cobra.Command{
		Use:   "zfdash [flags] [command [json-arg...]]",
		Short: "ZFS management dashboard core",
		Long: `ZfDash core: a privileged ZFS daemon and its client runtime.
Without --daemon this runs as a client and executes the given command
against a daemon (default: list_pools).`,
		SilenceUsage:     true,
		PersistentPreRun: preRun,
		RunE:             run,
	}
)

func init() {
	log.SetOutput(os.Stderr)
	log.SetLevel(log.InfoLevel)

	addFlags(cmdRoot.Flags())

	cmdRoot.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number and exit.",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("zfdash version %s\n", version)
		},
	})
}

func addFlags(flags *pflag.FlagSet) {
	flags.BoolVar(&flagDaemon, "daemon", false, "run as daemon (requires --uid and --gid)")
	flags.IntVar(&flagUID, "uid", -1, "target user id the daemon operates for")
	flags.IntVar(&flagGID, "gid", -1, "target group id the daemon operates for")

	flags.StringVar(&flagListenSocket, "listen-socket", "", "daemon listens on a unix socket (default: canonical per-UID path)")
	flags.BoolVar(&flagAgent, "agent", false, "daemon listens on TCP (agent mode)")
	flags.IntVar(&flagAgentPort, "agent-port", 5555, "agent mode TCP port")
	flags.BoolVar(&flagNoTLS, "no-tls", false, "disable TLS in agent mode")

	flags.StringVar(&flagSocket, "socket", "", "client: connect via unix socket, launching a persistent daemon if needed")
	flags.StringVar(&flagConnectSocket, "connect-socket", "", "client: connect via unix socket without launching a daemon")
	flags.StringVar(&flagLaunchDaemon, "launch-daemon", "", "launch a persistent socket daemon and exit")
	flags.StringVar(&flagStopDaemon, "stop-daemon", "", "stop a running socket daemon and exit")

	flags.BoolVar(&flagDebug, "debug", false, "enable verbose diagnostic output")

	for _, name := range []string{"listen-socket", "socket", "connect-socket", "launch-daemon", "stop-daemon"} {
		flags.Lookup(name).NoOptDefVal = optDefault
	}
}

func preRun(cmd *cobra.Command, args []string) {
	if flagDebug {
		log.SetLevel(log.DebugLevel)
	}
}

// optPath resolves an optional-path flag value: "" means the flag was not
// given, optDefault means given without a path.
func optPath(cmd *cobra.Command, name, value string) (given bool, path string) {
	if !cmd.Flags().Changed(name) {
		return false, ""
	}
	if value == optDefault {
		return true, ""
	}
	return true, value
}

func run(cmd *cobra.Command, args []string) error {
	if flagDaemon {
		return runDaemon(cmd)
	}
	return runClient(cmd, args)
}

func runDaemon(cmd *cobra.Command) error {
	if flagUID < 0 || flagGID < 0 {
		return fmt.Errorf("--daemon requires --uid and --gid")
	}
	opts := daemon.Options{
		UID:       flagUID,
		GID:       flagGID,
		Transport: daemon.TransportPipe,
		AgentPort: flagAgentPort,
		NoTLS:     flagNoTLS,
	}
	if given, path := optPath(cmd, "listen-socket", flagListenSocket); given {
		opts.Transport = daemon.TransportSocket
		opts.SocketPath = path
	}
	if flagAgent {
		opts.Transport = daemon.TransportAgent
	}
	return daemon.New(opts).Run()
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "zfdash: %v\n", err)
		os.Exit(1)
	}
}
