package hostfacts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func fixtureCollector(t *testing.T) (*Collector, string, string) {
	t.Helper()
	etcDir := t.TempDir()
	sysDir := t.TempDir()
	c := NewCollector(zerolog.Nop())
	c.EtcDir = etcDir
	c.SysDir = sysDir
	return c, etcDir, sysDir
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", name, err)
	}
}

func TestDistroClassification(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"amazon linux 1", "system-release", "Amazon Linux AMI release 2018.03\n", "alami"},
		{"amazon linux 2", "system-release", "Amazon Linux 2\n", "alami2"},
		{"rhel", "system-release", "Red Hat Enterprise Linux Server release 7.6 (Maipo)\n", "rhel"},
		{"centos", "system-release", "CentOS Linux release 7.9.2009 (Core)\n", "rhel"},
		{"unmatched system-release", "system-release", "Mystery OS 1.0\n", "unknown for /etc/system-release"},
		{"suse", "SuSE-release", "SUSE Linux Enterprise Server 12 (x86_64)\n", "suse"},
		{"ubuntu", "lsb-release", "DISTRIB_ID=Ubuntu\nDISTRIB_RELEASE=20.04\n", "ubuntu"},
		{"unmatched lsb-release", "lsb-release", "DISTRIB_ID=Mint\n", "unknown for /etc/lsb-release"},
		{"issue rhel", "issue", "CentOS release 6.10 (Final)\n", "rhel"},
		{"os-release suse", "os-release", "NAME=SLES\nPRETTY_NAME=\"SUSE Linux Enterprise Server 15\"\n", "suse"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, etcDir, _ := fixtureCollector(t)
			writeFixture(t, etcDir, tc.file, tc.content)

			if got := c.Distro(); got != tc.want {
				t.Errorf("Distro() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDistroNoReleaseFiles(t *testing.T) {
	c, _, _ := fixtureCollector(t)

	if got := c.Distro(); got != "unknown" {
		t.Errorf("Distro() = %q, want %q", got, "unknown")
	}
}

func TestDistroSystemReleaseTakesPrecedence(t *testing.T) {
	c, etcDir, _ := fixtureCollector(t)
	writeFixture(t, etcDir, "system-release", "Amazon Linux 2\n")
	writeFixture(t, etcDir, "lsb-release", "DISTRIB_ID=Ubuntu\n")

	if got := c.Distro(); got != "alami2" {
		t.Errorf("Distro() = %q, want system-release to win", got)
	}
}

func TestNitroDetection(t *testing.T) {
	c, _, sysDir := fixtureCollector(t)
	writeFixture(t, sysDir, "devices/virtual/dmi/id/board_asset_tag", "i-0123456789abcdef0\n")

	if !c.Nitro() {
		t.Error("Nitro() = false, want true for an instance-ID asset tag")
	}
}

func TestNitroNonInstanceAssetTag(t *testing.T) {
	c, _, sysDir := fixtureCollector(t)
	writeFixture(t, sysDir, "devices/virtual/dmi/id/board_asset_tag", "To be filled by O.E.M.\n")

	if c.Nitro() {
		t.Error("Nitro() = true, want false for a non-instance asset tag")
	}
}

func TestIsInstanceNitroShortCircuits(t *testing.T) {
	c, _, sysDir := fixtureCollector(t)
	writeFixture(t, sysDir, "devices/virtual/dmi/id/board_asset_tag", "i-0123456789abcdef0\n")

	if !c.IsInstance(context.Background()) {
		t.Error("IsInstance() = false, want true without consulting the metadata service")
	}
}

func TestIsInstanceRequiresHypervisorUUID(t *testing.T) {
	c, _, _ := fixtureCollector(t)

	if c.IsInstance(context.Background()) {
		t.Error("IsInstance() = true, want false with no nitro tag and no hypervisor uuid")
	}
}

func TestVerifyMetadataTokenFallback(t *testing.T) {
	const token = "session-token"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/latest/api/token":
			if r.Header.Get("X-aws-ec2-metadata-token-ttl-seconds") == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(token))
		case r.URL.Path == "/latest/meta-data/instance-id":
			if r.Header.Get("X-aws-ec2-metadata-token") != token {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte("i-0123456789abcdef0"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c, _, _ := fixtureCollector(t)
	c.MetadataBase = server.URL

	if !c.VerifyMetadata(context.Background()) {
		t.Error("VerifyMetadata() = false, want token fallback to succeed")
	}
}

func TestVerifyMetadataUnreachable(t *testing.T) {
	c, _, _ := fixtureCollector(t)
	c.MetadataBase = "http://127.0.0.1:1"

	if c.VerifyMetadata(context.Background()) {
		t.Error("VerifyMetadata() = true, want false when the service is unreachable")
	}
}

func TestVirtTypeFromProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/latest/meta-data/profile" {
			w.Write([]byte("default-hvm"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c, _, _ := fixtureCollector(t)
	c.MetadataBase = server.URL

	got, err := c.VirtType(context.Background())
	if err != nil {
		t.Fatalf("VirtType() error = %v", err)
	}
	if got != "default-hvm" {
		t.Errorf("VirtType() = %q, want %q", got, "default-hvm")
	}
}

func TestWhichMissingCommand(t *testing.T) {
	c, _, _ := fixtureCollector(t)

	if got := c.Which("definitely-not-a-real-command-xyz"); got != "" {
		t.Errorf("Which() = %q, want empty for a missing command", got)
	}
}

func TestExportEnv(t *testing.T) {
	t.Setenv("HOSTPROBE_DISTRO", "")
	t.Setenv("HOSTPROBE_SUDO", "")
	t.Setenv("HOSTPROBE_PERFIMPACT", "")
	t.Setenv("HOSTPROBE_NET_DRIVER", "")
	t.Setenv("HOSTPROBE_VIRT_TYPE", "")

	facts := &Facts{
		Distro:       "ubuntu",
		Root:         true,
		NetDriver:    "ena",
		VirtType:     "nitro",
		PerfImpactOK: false,
	}
	facts.ExportEnv()

	if got := os.Getenv("HOSTPROBE_DISTRO"); got != "ubuntu" {
		t.Errorf("HOSTPROBE_DISTRO = %q", got)
	}
	if got := os.Getenv("HOSTPROBE_SUDO"); got != "True" {
		t.Errorf("HOSTPROBE_SUDO = %q, want True", got)
	}
	if got := os.Getenv("HOSTPROBE_PERFIMPACT"); got != "False" {
		t.Errorf("HOSTPROBE_PERFIMPACT = %q, want False", got)
	}
}
