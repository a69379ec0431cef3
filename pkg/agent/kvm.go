package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	libvirt "github.com/digitalocean/go-libvirt"

	apiclient "github.com/thorium-sh/thorium/pkg/client"
	"github.com/thorium-sh/thorium/pkg/config"
	"github.com/thorium-sh/thorium/pkg/models"
)

// KvmExecutor runs a job inside its own short-lived libvirt domain,
// grounded on the pack's kvm.Connect/CreateVM/DeleteVM trio: connect over a
// Unix socket dialer, define+start a domain, tear it down when done. Unlike
// that example's persistent, SSH-reachable VM, a job's domain shares the
// job's isolated directory in through a virtio-9p filesystem device and
// runs the command via a cloud-init runcmd that shuts the VM down when the
// command exits — there is no guest agent exec channel available here, so
// completion is inferred from a sentinel file or the domain shutting off,
// and no exit code is reported.
type KvmExecutor struct {
	cfg     config.AgentConfig
	thorium *apiclient.Client
	image   models.Image
	jobID   string
	jobDir  string
	deps    *deps
	log     *slog.Logger

	socket   string
	vmName   string
	isoPath  string
	virt     *libvirt.Libvirt
	domain   *libvirt.Domain
	launched bool
}

// NewKvmExecutor builds a KvmExecutor for a single job, dialing
// cfg.KvmSocket the same way kvm.CreateVMParams.LibvirtSocket does.
func NewKvmExecutor(cfg config.AgentConfig, thorium *apiclient.Client, img models.Image, jobID string) *KvmExecutor {
	jobDir := filepath.Join(cfg.BaseDir, jobID)
	return &KvmExecutor{
		cfg:     cfg,
		thorium: thorium,
		image:   img,
		jobID:   jobID,
		jobDir:  jobDir,
		deps:    newDeps(thorium, jobDir),
		log:     slog.With("component", "agent", "executor", "kvm", "job", jobID),
		socket:  cfg.KvmSocket,
		vmName:  "thorium-" + jobID,
	}
}

func (e *KvmExecutor) ResultPaths(img models.Image, jobID string) (string, string) {
	return isolate(img.Output.ResultsFile, jobID), isolate(img.Output.ResultFilesDir, jobID)
}

// Setup is identical in shape to BareMetalExecutor.Setup.
func (e *KvmExecutor) Setup(ctx context.Context, job models.GenericJob) (map[string]string, error) {
	if _, err := e.deps.downloadSamples(ctx, e.image, job); err != nil {
		return nil, err
	}
	if _, err := e.deps.downloadEphemeral(ctx, e.image, job); err != nil {
		return nil, err
	}
	_, commits, err := e.deps.downloadRepos(ctx, e.image, job)
	if err != nil {
		return nil, err
	}
	if _, err := e.deps.downloadTags(ctx, e.image, job); err != nil {
		return nil, err
	}
	if !e.image.Deps.Results.Disabled() {
		if _, err := e.deps.downloadResults(ctx, e.image, job, resultDependencyTools(e.image)); err != nil {
			return nil, err
		}
	}
	if _, err := e.deps.downloadChildren(ctx, e.image, job); err != nil {
		return nil, err
	}
	return commits, nil
}

// unixDialer mirrors kvm.UnixDialer: a libvirt.Dialer over a plain Unix
// socket, no TLS or RPC framing beyond what go-libvirt handles itself.
type unixDialer struct{ path string }

func (d *unixDialer) Dial() (net.Conn, error) { return net.Dial("unix", d.path) }

// Execute defines and starts a domain whose guest shares the job directory
// in over 9p and runs the command via cloud-init, mirroring kvm.CreateVM's
// connect/cloud-init/DomainDefineXML/DomainCreate sequence.
func (e *KvmExecutor) Execute(ctx context.Context, img models.Image, job models.GenericJob, logFile string) (InFlight, error) {
	args := buildCommand(img.Command, job.Args)
	if len(args) == 0 {
		return nil, fmt.Errorf("agent: image %s has an empty command", img.Key())
	}
	if err := ensureDir(logFile); err != nil {
		return nil, err
	}
	logOut, err := os.Create(logFile)
	if err != nil {
		return nil, fmt.Errorf("agent: creating log file %s: %w", logFile, err)
	}
	logOut.Close()

	virt := libvirt.NewWithDialer(&unixDialer{path: e.socket})
	if err := virt.Connect(); err != nil {
		return nil, fmt.Errorf("agent: connecting to libvirt at %s: %w", e.socket, err)
	}
	e.virt = virt

	isoPath := filepath.Join(e.jobDir, "cloud-init.iso")
	doneMarker := "/mnt/thorium/.thorium-done"
	if err := writeCloudInitISO(cloudInitSpec{
		VMName:     e.vmName,
		Command:    strings.Join(quoteShellArgs(args), " "),
		LogName:    filepath.Base(logFile),
		DoneMarker: doneMarker,
		OutputPath: isoPath,
	}); err != nil {
		return nil, err
	}
	e.isoPath = isoPath

	vcpus := int(img.Resources.MilliCPU / 1000)
	if vcpus < 1 {
		vcpus = 1
	}
	domainXML := kvmDomainXML(kvmDomainSpec{
		Name:         e.vmName,
		MemoryKiB:    int(img.Resources.MemoryMiB) * 1024,
		VCPUs:        vcpus,
		ImagePath:    e.cfg.KvmBaseImage,
		CloudInitISO: isoPath,
		SharedDir:    e.jobDir,
		SharedTag:    "thorium0",
	})

	dom, err := virt.DomainDefineXML(domainXML)
	if err != nil {
		return nil, fmt.Errorf("agent: defining domain for job %s: %w", job.ID, err)
	}
	e.domain = &dom

	if err := virt.DomainCreate(dom); err != nil {
		return nil, fmt.Errorf("agent: starting domain for job %s: %w", job.ID, err)
	}
	e.launched = true

	return &domainInFlight{virt: virt, domain: dom, jobDir: e.jobDir, doneMarker: "/.thorium-done"}, nil
}

func (e *KvmExecutor) Results(ctx context.Context, img models.Image, jobID string) (RawResults, error) {
	return readResultsFile(e.ResultPaths(img, jobID))
}

func (e *KvmExecutor) Tags(ctx context.Context, img models.Image, job models.GenericJob) (map[string][]string, error) {
	return readTagsFile(isolate(img.Output.TagsFile, job.ID))
}

func (e *KvmExecutor) Children(ctx context.Context, img models.Image, jobID string) (map[string]string, error) {
	return readChildrenDir(isolate(img.Output.ChildrenDir, jobID))
}

// CleanUp destroys and undefines the domain (mirroring kvm.DeleteVM) and
// removes the job's isolated directory.
func (e *KvmExecutor) CleanUp(ctx context.Context, img models.Image, job models.GenericJob) error {
	if e.virt != nil && e.domain != nil {
		if e.launched {
			_ = e.virt.DomainDestroy(*e.domain)
		}
		if err := e.virt.DomainUndefine(*e.domain); err != nil {
			e.log.Warn("failed to undefine domain", slog.Any("error", err))
		}
		if err := e.virt.Disconnect(); err != nil {
			e.log.Warn("failed to disconnect from libvirt", slog.Any("error", err))
		}
	}
	if err := os.RemoveAll(e.jobDir); err != nil {
		return fmt.Errorf("agent: removing job dir %s: %w", e.jobDir, err)
	}
	return nil
}

// domainInFlight adapts a running libvirt domain to InFlight. There is no
// guest-exec channel wired up (see KvmExecutor's doc comment), so completion
// is detected two ways: the domain shuts itself off once the guest's
// runcmd finishes (cloud-init's poweroff), or the shared directory gains
// the sentinel file the runcmd touches right before powering off — whichever
// is observed first.
type domainInFlight struct {
	virt       *libvirt.Libvirt
	domain     libvirt.Domain
	jobDir     string
	doneMarker string

	finished bool
}

func (d *domainInFlight) Poll(ctx context.Context) (JobStatus, ExitCode, error) {
	if d.finished {
		return JobFinished, None, nil
	}
	if _, err := os.Stat(filepath.Join(d.jobDir, d.doneMarker)); err == nil {
		d.finished = true
		return JobFinished, None, nil
	}
	state, _, err := d.virt.DomainGetState(d.domain, 0)
	if err != nil {
		return JobFailed, None, fmt.Errorf("agent: querying domain state: %w", err)
	}
	const domainShutoff = 5
	if state == domainShutoff {
		d.finished = true
		return JobFinished, None, nil
	}
	return JobOnGoing, None, nil
}

func (d *domainInFlight) Cancel(ctx context.Context) error {
	return d.virt.DomainDestroy(d.domain)
}

func quoteShellArgs(args []string) []string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return quoted
}

// kvmDomainSpec and kvmDomainXML extend kvm.GenerateDomainXML's shape with
// a virtio-9p filesystem share, needed to get the job's dependencies in and
// its results out without a network round trip.
type kvmDomainSpec struct {
	Name         string
	MemoryKiB    int
	VCPUs        int
	ImagePath    string
	CloudInitISO string
	SharedDir    string
	SharedTag    string
}

func kvmDomainXML(cfg kvmDomainSpec) string {
	if cfg.MemoryKiB == 0 {
		cfg.MemoryKiB = 2097152
	}
	if cfg.VCPUs == 0 {
		cfg.VCPUs = 2
	}
	return fmt.Sprintf(`<?xml version='1.0'?>
<domain type="kvm">
  <name>%s</name>
  <memory unit="KiB">%d</memory>
  <currentMemory unit="KiB">%d</currentMemory>
  <vcpu placement="static">%d</vcpu>
  <os>
    <type arch="x86_64" machine="pc-q35-9.2">hvm</type>
    <boot dev="hd"/>
  </os>
  <features><acpi/><apic/></features>
  <cpu mode="host-passthrough" check="none" migratable="on"/>
  <clock offset="utc"/>
  <on_poweroff>destroy</on_poweroff>
  <on_crash>destroy</on_crash>
  <devices>
    <emulator>/usr/bin/qemu-system-x86_64</emulator>
    <disk type="file" device="disk">
      <driver name="qemu" type="qcow2" discard="unmap"/>
      <source file="%s"/>
      <target dev="vda" bus="virtio"/>
    </disk>
    <disk type="file" device="cdrom">
      <driver name="qemu" type="raw"/>
      <source file="%s"/>
      <target dev="sda" bus="sata"/>
      <readonly/>
    </disk>
    <filesystem type="mount" accessmode="passthrough">
      <source dir="%s"/>
      <target dir="%s"/>
    </filesystem>
    <interface type="network">
      <source network="default"/>
      <model type="virtio"/>
    </interface>
    <console type="pty">
      <target type="serial" port="0"/>
    </console>
    <memballoon model="virtio"/>
    <rng model="virtio">
      <backend model="random">/dev/urandom</backend>
    </rng>
  </devices>
</domain>`, cfg.Name, cfg.MemoryKiB, cfg.MemoryKiB, cfg.VCPUs,
		cfg.ImagePath, cfg.CloudInitISO, cfg.SharedDir, cfg.SharedTag)
}

// cloudInitSpec and writeCloudInitISO extend kvm.CreateCloudInitISO's shape
// with a runcmd that mounts the shared directory, runs the job's command
// with its working directory set there, and powers off — there is no
// SSH key or package list to thread through since this VM never needs
// interactive access.
type cloudInitSpec struct {
	VMName     string
	Command    string
	LogName    string
	DoneMarker string
	OutputPath string
}

func writeCloudInitISO(cfg cloudInitSpec) error {
	userData := fmt.Sprintf(`#cloud-config
hostname: %s
runcmd:
  - mkdir -p /mnt/thorium
  - mount -t 9p -o trans=virtio,version=9p2000.L thorium0 /mnt/thorium
  - sh -c 'cd /mnt/thorium && %s > /mnt/thorium/%s 2>&1; touch %s'
  - poweroff
`, cfg.VMName, cfg.Command, cfg.LogName, cfg.DoneMarker)
	metaData := fmt.Sprintf("instance-id: %s\nlocal-hostname: %s\n", cfg.VMName, cfg.VMName)

	tmpdir := filepath.Join(os.TempDir(), "thorium-cloudinit-"+cfg.VMName)
	if err := os.MkdirAll(tmpdir, 0755); err != nil {
		return fmt.Errorf("agent: making cloud-init tmp dir: %w", err)
	}
	defer os.RemoveAll(tmpdir)

	userFile := filepath.Join(tmpdir, "user-data")
	metaFile := filepath.Join(tmpdir, "meta-data")
	if err := os.WriteFile(userFile, []byte(userData), 0644); err != nil {
		return fmt.Errorf("agent: writing cloud-init user-data: %w", err)
	}
	if err := os.WriteFile(metaFile, []byte(metaData), 0644); err != nil {
		return fmt.Errorf("agent: writing cloud-init meta-data: %w", err)
	}

	cmd := exec.Command("genisoimage", "-output", cfg.OutputPath,
		"-volid", "cidata", "-joliet", "-rock", userFile, metaFile)
	if err := cmd.Run(); err != nil {
		fallback := exec.Command("mkisofs", "-output", cfg.OutputPath,
			"-volid", "cidata", "-joliet", "-rock", userFile, metaFile)
		if err2 := fallback.Run(); err2 != nil {
			return fmt.Errorf("agent: building cloud-init ISO: %v / %v", err, err2)
		}
	}
	return nil
}
