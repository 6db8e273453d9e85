// Package gitlab runs pipeline instances as triggered GitLab CI pipelines.
// The project's CI configuration is expected to start a job that runs
// $VMORCH_IMAGE with $VMORCH_COMMAND and $VMORCH_ARGUMENTS on a VM runner.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	gitlab "github.com/xanzy/go-gitlab"

	"vmorch/pkg/provider"
)

// Name is the provider name used in configuration.
const Name = "gitlab"

const jobsPerPage = 100

// Pipeline variables passed to the triggered pipeline.
const (
	VarImage     = "VMORCH_IMAGE"
	VarCommand   = "VMORCH_COMMAND"
	VarArguments = "VMORCH_ARGUMENTS"
	varOptPrefix = "VMORCH_OPT_"
)

// Config holds the GitLab connection settings.
type Config struct {
	URL          string
	Project      string
	Ref          string
	TriggerToken string
	Token        string
}

// Backend implements provider.Backend on GitLab CI pipelines.
type Backend struct {
	client *gitlab.Client
	cfg    Config
	logger *slog.Logger

	current *pipeline
}

type pipeline struct {
	id     int
	name   string
	webURL string
	// offsets tracks how much of each job trace has been yielded.
	offsets map[int]int
}

// New creates a GitLab backend.
func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("GitLab API token is required")
	}
	if cfg.TriggerToken == "" {
		return nil, fmt.Errorf("GitLab pipeline trigger token is required")
	}
	if cfg.Ref == "" {
		cfg.Ref = "main"
	}

	client, err := gitlab.NewClient(cfg.Token, gitlab.WithBaseURL(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}
	return &Backend{client: client, cfg: cfg, logger: logger}, nil
}

func (b *Backend) Name() string { return Name }

// Launch triggers a pipeline on the configured ref. The window between
// trigger acceptance and the first job starting is reported as pending.
func (b *Backend) Launch(ctx context.Context, req provider.LaunchRequest) (provider.InstanceView, error) {
	if req.Image == "" {
		return provider.InstanceView{}, provider.NewLaunchError(Name, "image reference is empty", nil)
	}

	variables, err := launchVariables(req)
	if err != nil {
		return provider.InstanceView{}, provider.NewLaunchError(Name, "invalid launch request", err)
	}

	p, resp, err := b.client.PipelineTriggers.RunPipelineTrigger(b.cfg.Project, &gitlab.RunPipelineTriggerOptions{
		Ref:       gitlab.String(b.cfg.Ref),
		Token:     gitlab.String(b.cfg.TriggerToken),
		Variables: variables,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return provider.InstanceView{}, provider.NewLaunchError(Name, rejection(resp), err)
	}

	b.current = &pipeline{
		id:      p.ID,
		name:    fmt.Sprintf("%s#%d", b.cfg.Project, p.ID),
		webURL:  p.WebURL,
		offsets: map[int]int{},
	}
	b.logger.Debug("Pipeline triggered", "project", b.cfg.Project, "pipeline", p.ID, "ref", b.cfg.Ref)

	status := MapStatus(p.Status)
	if status == provider.StatusUnknown {
		status = provider.StatusPending
	}
	return provider.InstanceView{ID: strconv.Itoa(p.ID), Name: b.current.name, Status: status}, nil
}

// Instance fetches the triggered pipeline.
func (b *Backend) Instance(ctx context.Context) (provider.InstanceView, error) {
	if b.current == nil {
		return provider.InstanceView{}, provider.ErrNotFound
	}

	p, resp, err := b.client.Pipelines.GetPipeline(b.cfg.Project, b.current.id, gitlab.WithContext(ctx))
	if err != nil {
		return provider.InstanceView{}, classify(ctx, resp, err)
	}
	if p.WebURL != "" {
		b.current.webURL = p.WebURL
	}
	return provider.InstanceView{
		ID:     strconv.Itoa(p.ID),
		Name:   b.current.name,
		Status: MapStatus(p.Status),
	}, nil
}

// LogsURL returns the pipeline page.
func (b *Backend) LogsURL(context.Context) (string, bool) {
	if b.current == nil || b.current.webURL == "" {
		return "", false
	}
	return b.current.webURL, true
}

// StreamLogs yields trace lines of the pipeline's jobs that have not been
// yielded yet. GitLab traces carry no per-line timestamps, so the window
// is satisfied by the per-job offsets: every call returns exactly the
// output appended since the previous call.
func (b *Backend) StreamLogs(ctx context.Context, _ time.Duration) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		cur := b.current
		if cur == nil {
			return
		}

		jobs, err := b.pipelineJobs(ctx, cur.id)
		if err != nil {
			yield("", err)
			return
		}
		sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })

		for _, job := range jobs {
			if MapStatus(job.Status) == provider.StatusPending {
				continue
			}
			trace, resp, err := b.client.Jobs.GetTraceFile(b.cfg.Project, job.ID, gitlab.WithContext(ctx))
			if err != nil {
				if resp != nil && resp.StatusCode == http.StatusNotFound {
					continue
				}
				yield("", classify(ctx, resp, err))
				return
			}
			data, err := io.ReadAll(trace)
			if err != nil {
				yield("", provider.Transient(err))
				return
			}

			final := MapStatus(job.Status).Terminal()
			lines, consumed := newLines(data, cur.offsets[job.ID], final)
			cur.offsets[job.ID] += consumed
			for _, line := range lines {
				if !yield(fmt.Sprintf("[%s] %s", job.Name, line), nil) {
					return
				}
			}
		}
	}
}

// pipelineJobs lists every job of the pipeline, following pagination.
func (b *Backend) pipelineJobs(ctx context.Context, pipelineID int) ([]*gitlab.Job, error) {
	opts := &gitlab.ListJobsOptions{ListOptions: gitlab.ListOptions{PerPage: jobsPerPage}}
	var all []*gitlab.Job
	for {
		jobs, resp, err := b.client.Jobs.ListPipelineJobs(b.cfg.Project, pipelineID, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classify(ctx, resp, err)
		}
		all = append(all, jobs...)
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// MapStatus converts a GitLab pipeline or job status into a provider status.
func MapStatus(status string) provider.Status {
	switch status {
	case "created", "waiting_for_resource", "preparing", "pending", "scheduled", "manual":
		return provider.StatusPending
	case "running":
		return provider.StatusRunning
	case "success":
		return provider.StatusSucceeded
	case "failed":
		return provider.StatusFailed
	case "canceled", "skipped":
		return provider.StatusStopped
	default:
		return provider.StatusUnknown
	}
}

// newLines returns the complete lines in data after offset and how many
// bytes they span. A trailing partial line is held back unless final.
func newLines(data []byte, offset int, final bool) ([]string, int) {
	if offset >= len(data) {
		return nil, 0
	}
	rest := data[offset:]
	end := bytes.LastIndexByte(rest, '\n') + 1
	if final {
		end = len(rest)
	}
	if end == 0 {
		return nil, 0
	}

	var lines []string
	for _, l := range strings.Split(strings.TrimRight(string(rest[:end]), "\n"), "\n") {
		lines = append(lines, strings.TrimRight(l, "\r"))
	}
	return lines, end
}

func launchVariables(req provider.LaunchRequest) (map[string]string, error) {
	command, err := json.Marshal(req.Command)
	if err != nil {
		return nil, err
	}
	arguments, err := json.Marshal(req.Arguments)
	if err != nil {
		return nil, err
	}

	vars := map[string]string{
		VarImage:     req.Image,
		VarCommand:   string(command),
		VarArguments: string(arguments),
	}
	for k, v := range req.Options {
		vars[varOptPrefix+variableName(k)] = v
	}
	return vars, nil
}

func variableName(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
}

func rejection(resp *gitlab.Response) string {
	if resp == nil || resp.Response == nil {
		return "trigger request failed"
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "trigger token rejected"
	case http.StatusNotFound:
		return "project or ref not found"
	case http.StatusBadRequest:
		return "pipeline could not be created"
	default:
		return resp.Status
	}
}

// classify maps API failures onto the provider error contract: 404 means the
// pipeline is gone, 5xx, 429 and transport failures are retryable, anything
// else is permanent.
func classify(ctx context.Context, resp *gitlab.Response, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if resp == nil || resp.Response == nil {
		return provider.Transient(err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", provider.ErrNotFound, err)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return provider.Transient(err)
	default:
		return err
	}
}

var _ provider.Backend = (*Backend)(nil)
