// Package hostfacts detects the properties of the host that gate which
// modules may run: distribution, privilege, network driver, virtualization
// type, and whether the host is a cloud instance at all.
package hostfacts

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Facts is one collected snapshot of the host properties.
type Facts struct {
	// Distro is the detected distribution identifier (alami, alami2,
	// rhel, suse, ubuntu) or an "unknown" marker naming the release file
	// that could not be classified.
	Distro string

	// Root reports whether the process runs with effective UID 0.
	Root bool

	// NetDriver is the kernel module backing the first non-virtual
	// network interface, or "Unknown".
	NetDriver string

	// VirtType is the virtualization profile reported by the instance
	// metadata service, "nitro" for nitro-family hardware, or
	// "non-virtualized" when the host is not an instance.
	VirtType string

	// Instance reports whether the host is a cloud instance.
	Instance bool

	// PerfImpactOK reports whether the operator allowed
	// performance-impacting modules for this run.
	PerfImpactOK bool
}

var (
	alamiPattern  = regexp.MustCompile(`^Amazon Linux AMI release \d{4}\.\d{2}`)
	alami2Pattern = regexp.MustCompile(`^Amazon Linux (release \d \(Karoo\)|release \d.* \(\d{4}\.\d{2}\)|2)`)
	rhelPattern   = regexp.MustCompile(`^Red Hat Enterprise Linux Server release \d\.\d`)
	centosPattern = regexp.MustCompile(`^CentOS.*release (\d+)\.(\d+)`)
	centosIssue   = regexp.MustCompile(`^CentOS release \d\.\d+`)
	susePattern   = regexp.MustCompile(`^SUSE Linux Enterprise Server \d{2}`)
	suseOSRelease = regexp.MustCompile(`^PRETTY_NAME="SUSE Linux Enterprise Server \d{2}`)
	alamiRelease  = regexp.MustCompile(`^PRETTY_NAME="Amazon Linux AMI \d{4}\.\d{2}`)
)

// Collector detects host facts. The filesystem roots and the metadata
// endpoint are fields so tests can point detection at fixtures.
type Collector struct {
	logger zerolog.Logger

	// EtcDir and SysDir are the roots for release files and the kernel's
	// device tree, normally /etc and /sys.
	EtcDir string
	SysDir string

	// MetadataBase is the instance metadata service endpoint.
	MetadataBase string

	// Client issues the metadata requests.
	Client *http.Client
}

// NewCollector creates a collector with the production roots and a short
// metadata timeout; the metadata service answers on a link-local address and
// either responds immediately or not at all.
func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		logger:       logger.With().Str("component", "hostfacts").Logger(),
		EtcDir:       "/etc",
		SysDir:       "/sys",
		MetadataBase: "http://169.254.169.254",
		Client:       &http.Client{Timeout: 3 * time.Second},
	}
}

// Collect gathers one snapshot of every fact. perfImpactOK is operator
// input, not a detection, and is carried through unchanged.
func (c *Collector) Collect(ctx context.Context, perfImpactOK bool) *Facts {
	facts := &Facts{
		Distro:       c.Distro(),
		Root:         c.Root(),
		NetDriver:    c.NetDriver(),
		Instance:     c.IsInstance(ctx),
		PerfImpactOK: perfImpactOK,
	}

	if facts.Instance {
		virtType, err := c.VirtType(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to determine virtualization type")
			virtType = "ERROR"
		}
		facts.VirtType = virtType
	} else {
		facts.VirtType = "non-virtualized"
	}

	c.logger.Info().
		Str("distro", facts.Distro).
		Bool("root", facts.Root).
		Str("net_driver", facts.NetDriver).
		Str("virt_type", facts.VirtType).
		Bool("instance", facts.Instance).
		Msg("Host facts collected")

	return facts
}

// Distro classifies the running distribution from the release files, checked
// in fixed precedence order. An unmatched release file yields an "unknown
// for <file>" marker rather than falling through to the next file.
func (c *Collector) Distro() string {
	if line, ok := c.firstLine("system-release"); ok {
		switch {
		case alamiPattern.MatchString(line):
			return "alami"
		case alami2Pattern.MatchString(line):
			return "alami2"
		case rhelPattern.MatchString(line), centosPattern.MatchString(line):
			return "rhel"
		default:
			return "unknown for /etc/system-release"
		}
	}

	if line, ok := c.firstLine("SuSE-release"); ok {
		if susePattern.MatchString(line) {
			return "suse"
		}
		return "unknown for /etc/SuSE-release"
	}

	if lines, ok := c.allLines("lsb-release"); ok {
		for _, line := range lines {
			if strings.HasPrefix(line, "DISTRIB_ID=Ubuntu") {
				return "ubuntu"
			}
		}
		return "unknown for /etc/lsb-release"
	}

	if line, ok := c.firstLine("issue"); ok {
		switch {
		case alamiPattern.MatchString(line):
			return "alami"
		case rhelPattern.MatchString(line), centosIssue.MatchString(line):
			return "rhel"
		default:
			return "unknown for /etc/issue"
		}
	}

	if lines, ok := c.allLines("os-release"); ok {
		for _, line := range lines {
			if suseOSRelease.MatchString(line) {
				return "suse"
			}
			if alamiRelease.MatchString(line) {
				return "alami"
			}
		}
		return "unknown for /etc/os-release"
	}

	return "unknown"
}

// Root reports whether the effective UID is 0.
func (c *Collector) Root() bool {
	return os.Geteuid() == 0
}

// NetDriver returns the kernel module name backing the first alphabetically
// ordered non-virtual network interface, or "Unknown" when none is found.
func (c *Collector) NetDriver() string {
	netDir := filepath.Join(c.SysDir, "class", "net")
	entries, err := os.ReadDir(netDir)
	if err != nil {
		return "Unknown"
	}

	var devices []string
	for _, entry := range entries {
		target, err := os.Readlink(filepath.Join(netDir, entry.Name()))
		if err != nil {
			continue
		}
		if !strings.Contains(target, "virtual") {
			devices = append(devices, entry.Name())
		}
	}
	if len(devices) == 0 {
		return "Unknown"
	}
	sort.Strings(devices)

	// The link target is a path such as ../../../../module/xen_netfront;
	// the driver name is the last element.
	target, err := os.Readlink(filepath.Join(netDir, devices[0], "device", "driver", "module"))
	if err != nil {
		return "Unknown"
	}
	return filepath.Base(target)
}

// Nitro reports whether the host is nitro-family hardware, detected via the
// board asset tag carrying an instance ID. Bare metal counts: it has no
// nitro hypervisor but lives in the same ecosystem.
func (c *Collector) Nitro() bool {
	tagPath := filepath.Join(c.SysDir, "devices", "virtual", "dmi", "id", "board_asset_tag")
	file, err := os.Open(tagPath)
	if err != nil {
		return false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return false
	}
	return strings.HasPrefix(scanner.Text(), "i-")
}

// IsInstance reports whether the running system is a cloud instance: nitro
// hardware, or a hypervisor UUID with the ec2 prefix confirmed against the
// instance identity document.
func (c *Collector) IsInstance(ctx context.Context) bool {
	if c.Nitro() {
		return true
	}

	uuidPath := filepath.Join(c.SysDir, "hypervisor", "uuid")
	data, err := os.ReadFile(uuidPath)
	if err != nil {
		return false
	}
	if !strings.HasPrefix(string(data), "ec2") {
		return false
	}

	ok, err := c.metadataReachable(ctx, "/latest/dynamic/instance-identity/document")
	if err != nil {
		return false
	}
	return ok
}

// VerifyMetadata reports whether the instance metadata service answers.
func (c *Collector) VerifyMetadata(ctx context.Context) bool {
	ok, err := c.metadataReachable(ctx, "/latest/meta-data/instance-id")
	if err != nil {
		return false
	}
	return ok
}

// Which returns the absolute path of an executable found on PATH, or ""
// when the command is missing or not executable.
func (c *Collector) Which(cmd string) string {
	path, err := exec.LookPath(cmd)
	if err != nil {
		return ""
	}
	return path
}

// firstLine reads the first line of a release file under EtcDir.
func (c *Collector) firstLine(name string) (string, bool) {
	file, err := os.Open(filepath.Join(c.EtcDir, name))
	if err != nil {
		return "", false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return "", true
	}
	return scanner.Text(), true
}

// allLines reads every line of a release file under EtcDir.
func (c *Collector) allLines(name string) ([]string, bool) {
	data, err := os.ReadFile(filepath.Join(c.EtcDir, name))
	if err != nil {
		return nil, false
	}
	return strings.Split(string(data), "\n"), true
}

// ExportEnv publishes the facts as the environment variables modules read.
// Boolean facts are stringified as "True"/"False" to match the module
// environment contract.
func (f *Facts) ExportEnv() {
	os.Setenv("HOSTPROBE_DISTRO", f.Distro)
	os.Setenv("HOSTPROBE_NET_DRIVER", f.NetDriver)
	os.Setenv("HOSTPROBE_VIRT_TYPE", f.VirtType)
	os.Setenv("HOSTPROBE_SUDO", titleBool(f.Root))
	os.Setenv("HOSTPROBE_PERFIMPACT", titleBool(f.PerfImpactOK))
}

// titleBool renders a bool in the "True"/"False" form module scripts expect.
func titleBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
