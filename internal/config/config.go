// Package config parses and validates the command line into the
// read-only Config every other package consumes.
package config

import (
	"fmt"
	"net"

	"github.com/spf13/pflag"
)

// Mode is the tunnel role.
type Mode string

const (
	ModeClient Mode = "client"
	ModeServer Mode = "server"
)

// Cmd is the lifecycle verb requested on the command line.
type Cmd string

const (
	CmdStart   Cmd = "start"
	CmdStop    Cmd = "stop"
	CmdRestart Cmd = "restart"
)

const (
	DefaultMTU     = 1440
	minMTU         = 576
	maxMTU         = 9000
	DefaultPort    = 8964
	DefaultIfName  = "shadowtun0"
	DefaultNetmask = "255.255.255.0"
	DefaultPidFile = "/var/run/shadowtun.pid"
)

// Config is the validated, read-only configuration a Tunnel is built
// from.
type Config struct {
	Cmd  Cmd
	Mode Mode

	IfName string
	Server string // peer host (client) or bind host (server)
	Port   int

	Password []byte
	MTU      int

	TunLocalIP  net.IP
	TunRemoteIP net.IP
	TunNetmask  net.IP

	// ServerNAT opts a Linux server into installing nftables
	// masquerade and forwarding rules for the tunnel, instead of
	// leaving routing to the up/down scripts. Off by default.
	ServerNAT bool

	PidFile    string
	LogFile    string
	UpScript   string
	DownScript string
}

// Parse parses args (typically os.Args[1:]) into a validated Config.
// The first positional argument is the Cmd; everything else is flags.
func Parse(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("shadowtun", pflag.ContinueOnError)

	mode := fs.StringP("mode", "m", "", `tunnel role: "client" or "server"`)
	ifName := fs.StringP("intf", "i", DefaultIfName, "TUN interface name")
	server := fs.StringP("server", "s", "", "peer host (client) or bind host (server)")
	port := fs.IntP("port", "p", DefaultPort, "UDP port")
	password := fs.StringP("password", "k", "", "shared tunnel password")
	mtu := fs.Int("mtu", DefaultMTU, "maximum plaintext IP packet size")
	localIP := fs.String("local", "", "TUN local IP")
	remoteIP := fs.String("remote", "", "TUN remote IP")
	netmask := fs.String("netmask", DefaultNetmask, "TUN netmask")
	serverNAT := fs.Bool("nat", false, "server mode, Linux only: install nftables masquerade/forward rules instead of leaving routing to the up/down scripts")
	pidFile := fs.String("pidfile", "", "PID file path")
	logFile := fs.String("logfile", "", "log file path (empty means stderr)")
	upScript := fs.String("up", "", "script to run after the interface comes up")
	downScript := fs.String("down", "", "script to run before the interface goes down")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	rest := fs.Args()
	if len(rest) < 1 {
		return nil, fmt.Errorf("config: missing command (start|stop|restart)")
	}
	cmd := Cmd(rest[0])
	switch cmd {
	case CmdStart, CmdStop, CmdRestart:
	default:
		return nil, fmt.Errorf("config: unknown command %q", rest[0])
	}

	c := &Config{
		Cmd:        cmd,
		Mode:       Mode(*mode),
		IfName:     *ifName,
		Server:     *server,
		Port:       *port,
		Password:   []byte(*password),
		MTU:        *mtu,
		TunNetmask: net.ParseIP(*netmask),
		ServerNAT:  *serverNAT,
		PidFile:    *pidFile,
		LogFile:    *logFile,
		UpScript:   *upScript,
		DownScript: *downScript,
	}
	if *localIP != "" {
		c.TunLocalIP = net.ParseIP(*localIP)
	}
	if *remoteIP != "" {
		c.TunRemoteIP = net.ParseIP(*remoteIP)
	}

	if cmd == CmdStop {
		// Stop only needs the PID file; everything else is optional.
		if c.PidFile == "" {
			return nil, fmt.Errorf("config: stop requires --pidfile")
		}
		return c, nil
	}

	if c.PidFile == "" {
		c.PidFile = DefaultPidFile
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeClient, ModeServer:
	default:
		return fmt.Errorf("config: --mode must be %q or %q", ModeClient, ModeServer)
	}
	if c.Server == "" {
		return fmt.Errorf("config: --server is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: --port %d out of range", c.Port)
	}
	if len(c.Password) == 0 {
		return fmt.Errorf("config: --password is required")
	}
	if c.MTU < minMTU || c.MTU > maxMTU {
		return fmt.Errorf("config: --mtu %d out of range [%d, %d]", c.MTU, minMTU, maxMTU)
	}
	if c.IfName == "" {
		return fmt.Errorf("config: --intf is required")
	}
	if c.ServerNAT && c.Mode != ModeServer {
		return fmt.Errorf("config: --nat only applies to server mode")
	}
	return nil
}
