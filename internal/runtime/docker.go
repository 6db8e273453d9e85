package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"
)

// ErrContainerNotFound is returned when the daemon has no container with the given ID.
var ErrContainerNotFound = errors.New("container not found")

// DockerRuntime wraps the Docker SDK client. The daemon may be remote
// (DOCKER_HOST=ssh://user@vm), which is how a VM is driven through it.
type DockerRuntime struct {
	client *client.Client
}

// NewDockerRuntime creates a DockerRuntime from the environment, optionally
// overriding the daemon host, and checks that the daemon is reachable.
func NewDockerRuntime(ctx context.Context, host string) (*DockerRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	dockerClient, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	if _, err := dockerClient.Ping(ctx); err != nil {
		_ = dockerClient.Close()
		return nil, fmt.Errorf("failed to connect to Docker daemon: %w", err)
	}

	return &DockerRuntime{client: dockerClient}, nil
}

// Host returns the daemon address in use.
func (d *DockerRuntime) Host() string {
	return d.client.DaemonHost()
}

// Close releases the underlying client.
func (d *DockerRuntime) Close() error {
	return d.client.Close()
}

// PullImage pulls a Docker image.
func (d *DockerRuntime) PullImage(ctx context.Context, imageName string) error {
	slog.Info("Pulling Docker image", "image", imageName)

	reader, err := d.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()

	if _, err := decodeStream(reader, nil); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}

	slog.Info("Successfully pulled Docker image", "image", imageName)
	return nil
}

// BuildOptions describes an image build.
type BuildOptions struct {
	ContextDir string
	Dockerfile string
	Tags       []string
	BuildArgs  map[string]string
	Labels     map[string]string
}

// OutputCallback is invoked with incremental build and push messages.
type OutputCallback func(string)

// BuildImage builds an image from a local context directory.
func (d *DockerRuntime) BuildImage(ctx context.Context, opts BuildOptions, onOutput OutputCallback) error {
	if opts.ContextDir == "" {
		return fmt.Errorf("build context directory cannot be empty")
	}
	if len(opts.Tags) == 0 {
		return fmt.Errorf("image tag cannot be empty")
	}

	buildCtx, err := archive.TarWithOptions(opts.ContextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildCtx.Close()

	args := make(map[string]*string, len(opts.BuildArgs))
	for k, v := range opts.BuildArgs {
		args[k] = &v
	}

	resp, err := d.client.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        opts.Tags,
		Dockerfile:  opts.Dockerfile,
		BuildArgs:   args,
		Labels:      opts.Labels,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()

	if _, err := decodeStream(resp.Body, onOutput); err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	return nil
}

// RegistryAuth holds registry credentials; empty means anonymous.
type RegistryAuth struct {
	Username string
	Password string
}

// PushImage pushes ref and returns the digest reported by the registry.
func (d *DockerRuntime) PushImage(ctx context.Context, ref string, auth RegistryAuth, onOutput OutputCallback) (string, error) {
	encoded, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username: auth.Username,
		Password: auth.Password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode registry credentials: %w", err)
	}

	reader, err := d.client.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: encoded})
	if err != nil {
		return "", fmt.Errorf("failed to push image %s: %w", ref, err)
	}
	defer reader.Close()

	digest, err := decodeStream(reader, onOutput)
	if err != nil {
		return "", fmt.Errorf("failed to push image %s: %w", ref, err)
	}
	if digest == "" {
		// Older daemons omit the aux record; fall back to the local repo digests.
		digest, err = d.repoDigest(ctx, ref)
		if err != nil {
			return "", err
		}
	}
	return digest, nil
}

func (d *DockerRuntime) repoDigest(ctx context.Context, ref string) (string, error) {
	info, err := d.client.ImageInspect(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}
	repo := repository(ref)
	for _, rd := range info.RepoDigests {
		if name, digest, ok := strings.Cut(rd, "@"); ok && name == repo {
			return digest, nil
		}
	}
	return "", nil
}

// RunOptions describes a detached container run.
type RunOptions struct {
	Name    string
	Image   string
	Command []string
	Env     map[string]string
	Labels  map[string]string
	CPUs    string
	Memory  string
}

// RunContainer creates and starts a detached container and returns its ID.
// The container is left in place after it exits so its status and logs stay
// observable.
func (d *DockerRuntime) RunContainer(ctx context.Context, opts RunOptions) (string, error) {
	slog.Info("Running container", "image", opts.Image, "command", opts.Command)

	resources, err := resourceLimits(opts.CPUs, opts.Memory)
	if err != nil {
		return "", err
	}

	envVars := make([]string, 0, len(opts.Env))
	for key, value := range opts.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(envVars)

	containerConfig := &container.Config{
		Image:  opts.Image,
		Cmd:    opts.Command,
		Env:    envVars,
		Labels: opts.Labels,
	}
	hostConfig := &container.HostConfig{Resources: resources}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, opts.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := d.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil {
			slog.Error("Failed to remove container after start failure", "containerID", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	return resp.ID, nil
}

// ContainerState is the subset of inspect output the orchestrator needs.
type ContainerState struct {
	ID       string
	Name     string
	Status   string
	ExitCode int
}

// InspectContainer returns the current state of a container.
func (d *DockerRuntime) InspectContainer(ctx context.Context, id string) (ContainerState, error) {
	info, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return ContainerState{}, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return ContainerState{}, fmt.Errorf("failed to inspect container %s: %w", id, err)
	}

	state := ContainerState{ID: info.ID, Name: strings.TrimPrefix(info.Name, "/")}
	if info.State != nil {
		state.Status = info.State.Status
		state.ExitCode = info.State.ExitCode
	}
	return state, nil
}

// LogLine is a single timestamped log line.
type LogLine struct {
	Time time.Time
	Text string
}

// ContainerLogs returns the log lines emitted in [since, until].
func (d *DockerRuntime) ContainerLogs(ctx context.Context, id string, since, until time.Time) ([]LogLine, error) {
	reader, err := d.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Since:      unixNano(since),
		Until:      unixNano(until),
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return nil, fmt.Errorf("failed to get container logs: %w", err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return nil, fmt.Errorf("failed to demultiplex container logs: %w", err)
	}
	return parseLogLines(buf.String()), nil
}

func unixNano(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10) + "." + fmt.Sprintf("%09d", t.Nanosecond())
}

// parseLogLines splits timestamped daemon output into lines. Lines without
// a parseable timestamp keep the zero time.
func parseLogLines(raw string) []LogLine {
	var lines []LogLine
	for _, l := range strings.Split(raw, "\n") {
		if strings.TrimSpace(l) == "" {
			continue
		}
		ts, text, ok := strings.Cut(l, " ")
		if !ok {
			lines = append(lines, LogLine{Text: l})
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			lines = append(lines, LogLine{Text: l})
			continue
		}
		lines = append(lines, LogLine{Time: t, Text: strings.TrimRight(text, "\r")})
	}
	return lines
}

func resourceLimits(cpus, memory string) (container.Resources, error) {
	var res container.Resources
	if cpus != "" {
		n, err := strconv.ParseFloat(cpus, 64)
		if err != nil || n <= 0 {
			return res, fmt.Errorf("invalid cpu limit %q", cpus)
		}
		res.NanoCPUs = int64(n * 1e9)
	}
	if memory != "" {
		n, err := units.RAMInBytes(memory)
		if err != nil {
			return res, fmt.Errorf("invalid memory limit %q: %w", memory, err)
		}
		res.Memory = n
	}
	return res, nil
}

// repository strips the tag or digest from an image reference.
func repository(ref string) string {
	if name, _, ok := strings.Cut(ref, "@"); ok {
		return name
	}
	slash := strings.LastIndex(ref, "/")
	if colon := strings.LastIndex(ref, ":"); colon > slash {
		return ref[:colon]
	}
	return ref
}

type streamMessage struct {
	Stream         string         `json:"stream"`
	Status         string         `json:"status"`
	ID             string         `json:"id"`
	Progress       string         `json:"progress"`
	ProgressDetail progressDetail `json:"progressDetail"`
	Error          string         `json:"error"`
	ErrorDetail    struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
	Aux map[string]any `json:"aux"`
}

type progressDetail struct {
	Current int64 `json:"current"`
	Total   int64 `json:"total"`
}

func (m streamMessage) errorMessage() string {
	if s := strings.TrimSpace(m.Error); s != "" {
		return s
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m streamMessage) render() string {
	if m.Stream != "" {
		return strings.TrimRight(m.Stream, "\n")
	}
	if m.Status != "" {
		parts := make([]string, 0, 3)
		if id := strings.TrimSpace(m.ID); id != "" {
			parts = append(parts, id)
		}
		parts = append(parts, strings.TrimSpace(m.Status))
		progress := strings.TrimSpace(m.Progress)
		if progress == "" && m.ProgressDetail.Total > 0 {
			progress = fmt.Sprintf("%d/%d", m.ProgressDetail.Current, m.ProgressDetail.Total)
		}
		if progress != "" {
			parts = append(parts, progress)
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// decodeStream consumes a daemon JSON message stream, forwarding rendered
// lines and returning the digest from any aux record.
func decodeStream(r io.Reader, onOutput OutputCallback) (string, error) {
	var digest string
	decoder := json.NewDecoder(r)
	for {
		var msg streamMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return digest, nil
			}
			return digest, fmt.Errorf("decode daemon output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return digest, errors.New(errMsg)
		}
		if d, ok := msg.Aux["Digest"].(string); ok {
			digest = d
		}
		if line := msg.render(); line != "" && onOutput != nil {
			onOutput(line)
		}
	}
}
