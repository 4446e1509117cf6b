package network

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/wheelibin/sunlamp/internal/constants"
	"github.com/wheelibin/sunlamp/internal/faults"
)

// LinkCheck reports whether the named interface (any interface when name is
// empty) is up with a routable address
type LinkCheck func(name string) (bool, error)

// Joiner asks the OS to join the access point
type Joiner func(ctx context.Context, iface string, ssid string, password string) error

type LinkOption func(*InterfaceLink)

func WithLinkCheck(p LinkCheck) LinkOption {
	return func(l *InterfaceLink) { l.check = p }
}

func WithPollInterval(d time.Duration) LinkOption {
	return func(l *InterfaceLink) { l.poll = d }
}

// WithCredentials makes Connect ask join to associate with ssid when the
// link is down
func WithCredentials(ssid string, password string, join Joiner) LinkOption {
	return func(l *InterfaceLink) {
		l.ssid = ssid
		l.password = password
		l.join = join
	}
}

// InterfaceLink waits for the network link managed by the OS (wpa_supplicant,
// NetworkManager) to come up, optionally asking it to join an access point
// first.
type InterfaceLink struct {
	logger  *log.Logger
	name    string
	timeout time.Duration
	poll    time.Duration
	check   LinkCheck

	ssid     string
	password string
	join     Joiner
}

func NewInterfaceLink(logger *log.Logger, name string, timeout time.Duration, opts ...LinkOption) *InterfaceLink {
	l := &InterfaceLink{
		logger:  logger,
		name:    name,
		timeout: timeout,
		poll:    constants.WifiPollInterval,
		check:   checkInterfaces,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Connected checks the live link state
func (l *InterfaceLink) Connected() bool {
	up, err := l.check(l.name)
	if err != nil {
		l.logger.Debug("Link check failed", "err", err)
		return false
	}
	return up
}

// Connect returns as soon as the link is up, or fails once the timeout expires
func (l *InterfaceLink) Connect(ctx context.Context) error {
	if l.Connected() {
		return nil
	}

	l.logger.Info("Waiting for network link", "interface", l.displayName(), "timeout", l.timeout)

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if l.ssid != "" && l.join != nil {
		l.logger.Info("Joining access point", "ssid", l.ssid)
		if err := l.join(ctx, l.name, l.ssid, l.password); err != nil {
			// the OS may still bring the link up on its own
			l.logger.Warn("Join request failed", "ssid", l.ssid, "err", err)
		}
	}

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("link %s not up after %s: %w", l.displayName(), l.timeout, faults.ErrTransientNetwork)
		case <-ticker.C:
			if l.Connected() {
				l.logger.Info("Network link up", "interface", l.displayName())
				return nil
			}
		}
	}
}

func (l *InterfaceLink) displayName() string {
	if l.name == "" {
		return "any"
	}
	return l.name
}

func checkInterfaces(name string) (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if name != "" && iface.Name != name {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.IsGlobalUnicast() {
				return true, nil
			}
		}
	}
	return false, nil
}

// NMCLIJoin joins an access point through NetworkManager
func NMCLIJoin(ctx context.Context, iface string, ssid string, password string) error {
	args := []string{"device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	if iface != "" {
		args = append(args, "ifname", iface)
	}
	out, err := exec.CommandContext(ctx, "nmcli", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("nmcli: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
