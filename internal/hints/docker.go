package hints

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"cxl-sched/internal/logging"
	"cxl-sched/internal/model"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

// Container labels understood by the provider.
const (
	LabelType              = "cxl-sched.type"
	LabelLatencySensitive  = "cxl-sched.latency_sensitive"
	LabelBandwidthCritical = "cxl-sched.bandwidth_critical"
)

// dockerAPI is the subset of the Docker client used here.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerTop(ctx context.Context, containerID string, arguments []string) (container.ContainerTopOKBody, error)
	Close() error
}

// DockerProvider classifies tasks that belong to labeled containers. The PID table is
// rebuilt by Refresh on the host side; Hint only reads the published snapshot.
type DockerProvider struct {
	cli   dockerAPI
	table atomic.Pointer[map[int32]model.BehaviorHint]
}

func NewDockerProvider() (*DockerProvider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newDockerProvider(cli), nil
}

func newDockerProvider(cli dockerAPI) *DockerProvider {
	p := &DockerProvider{cli: cli}
	empty := map[int32]model.BehaviorHint{}
	p.table.Store(&empty)
	return p
}

// Hint implements classifier.HintProvider.
func (p *DockerProvider) Hint(taskID int32, _ string) (model.BehaviorHint, bool) {
	h, ok := (*p.table.Load())[taskID]
	return h, ok
}

// Len returns the number of PIDs currently mapped.
func (p *DockerProvider) Len() int {
	return len(*p.table.Load())
}

// Refresh lists labeled containers and maps every process in them to the container's
// hint.
func (p *DockerProvider) Refresh(ctx context.Context) error {
	list, err := p.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", LabelType)),
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	logger := logging.GetLogger()
	next := make(map[int32]model.BehaviorHint)
	for _, c := range list {
		hint, err := hintFromLabels(c.Labels)
		if err != nil {
			logger.WithField("container_id", shortID(c.ID)).WithError(err).Warn("Ignoring container with invalid scheduling labels")
			continue
		}
		top, err := p.cli.ContainerTop(ctx, c.ID, []string{"-eLo", "lwp"})
		if err != nil {
			logger.WithField("container_id", shortID(c.ID)).WithError(err).Debug("Failed to list container processes")
			continue
		}
		for _, pid := range pidsFromTop(top) {
			next[pid] = hint
		}
	}
	p.table.Store(&next)

	logger.WithFields(logrus.Fields{
		"containers": len(list),
		"tasks":      len(next),
	}).Debug("Docker classification hints refreshed")
	return nil
}

// Run refreshes the table every interval until ctx is done.
func (p *DockerProvider) Run(ctx context.Context, interval time.Duration) {
	warn := logging.NewRateLimited(logging.GetLogger(), time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			warn.Warn(logrus.Fields{"error": err.Error()}, "Docker hint refresh failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *DockerProvider) Close() error {
	return p.cli.Close()
}

func hintFromLabels(labels map[string]string) (model.BehaviorHint, error) {
	var h model.BehaviorHint
	typ, ok := model.ParseTaskType(labels[LabelType])
	if !ok {
		return h, fmt.Errorf("unknown task type %q", labels[LabelType])
	}
	h.Type = typ
	for label, dst := range map[string]*bool{
		LabelLatencySensitive:  &h.LatencySensitive,
		LabelBandwidthCritical: &h.BandwidthCritical,
	} {
		v, ok := labels[label]
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return h, fmt.Errorf("label %s: %w", label, err)
		}
		*dst = b
	}
	return h, nil
}

// pidsFromTop extracts thread ids from the LWP (or PID) column.
func pidsFromTop(top container.ContainerTopOKBody) []int32 {
	col := -1
	for i, title := range top.Titles {
		switch strings.ToUpper(title) {
		case "LWP", "PID":
			if col < 0 || strings.ToUpper(title) == "LWP" {
				col = i
			}
		}
	}
	if col < 0 {
		return nil
	}
	var out []int32
	for _, proc := range top.Processes {
		if col >= len(proc) {
			continue
		}
		if pid, err := strconv.ParseInt(strings.TrimSpace(proc[col]), 10, 32); err == nil {
			out = append(out, int32(pid))
		}
	}
	return out
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
