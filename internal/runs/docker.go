package runs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	img "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"mdagreement-harness/internal/machamp"
)

// Docker runs the framework inside a container. WorkRoot (which must hold
// both the framework checkout and the data/output trees) is bind-mounted at
// its own host path, so argv built from host paths stays valid inside the
// container. Requires DOCKER_HOST when the daemon is remote.
type Docker struct {
	Framework *machamp.Framework
	Image     string // e.g. an image with the framework's Python environment
	WorkRoot  string
	Timeout   time.Duration // per phase, default 6h: training is slow
}

func (d *Docker) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return 6 * time.Hour
}

// TrainPredict mirrors Local.TrainPredict but executes both phases in
// containers. Training keeps network access (pretrained weights are fetched
// on first use); prediction runs with networking disabled.
func (d *Docker) TrainPredict(ctx context.Context, spec Spec) (*Output, error) {
	spec, err := absSpec(spec)
	if err != nil {
		return nil, err
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	defer cli.Close()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("cannot reach docker daemon (%s): %w", os.Getenv("DOCKER_HOST"), err)
	}

	phaseCtx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	if err := pullIfNeeded(phaseCtx, cli, d.Image); err != nil {
		return nil, fmt.Errorf("pull image %s: %w", d.Image, err)
	}

	train := d.Framework.TrainCommand(spec.DatasetConfig, spec.ParamsConfig, spec.Name, spec.Seed)
	if err := d.runOneShot(phaseCtx, cli, train, true); err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}

	// Artifacts land under WorkRoot, so discovery happens on the host side.
	runDir, err := d.Framework.FindRunDir(spec.Name)
	if err != nil {
		return nil, err
	}
	model, err := d.Framework.ModelPath(runDir)
	if err != nil {
		return nil, err
	}

	predict := d.Framework.PredictCommand(model, spec.TestFile, spec.PredPath)
	if err := d.runOneShot(phaseCtx, cli, predict, false); err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if _, err := os.Stat(spec.PredPath); err != nil {
		return nil, fmt.Errorf("predictions file missing after predict: %w", err)
	}
	return &Output{Spec: spec, RunDir: runDir, Model: model, PredRef: spec.PredPath}, nil
}

type imageAPI interface {
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (img.InspectResponse, error)
	ImagePull(ctx context.Context, refStr string, options img.PullOptions) (io.ReadCloser, error)
}

// pullIfNeeded pulls the image only when the daemon does not have it yet.
func pullIfNeeded(ctx context.Context, cli imageAPI, image string) error {
	if _, err := cli.ImageInspect(ctx, imageRef(image)); err == nil {
		return nil
	}
	reader, err := cli.ImagePull(ctx, imageRef(image), img.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader) // eat the progress stream
	return nil
}

func imageRef(image string) string {
	if strings.Contains(image, "/") || strings.Contains(image, ":") {
		return image
	}
	return "docker.io/library/" + image + ":latest"
}

func (d *Docker) runOneShot(ctx context.Context, cli *client.Client, cmd []string, netEnabled bool) error {
	stdout, stderr, exitCode, err := d.runWithLogs(ctx, cli, cmd, netEnabled)
	if err != nil {
		return fmt.Errorf("%s failed (exit=%d)\nstdout:\n%s\nstderr:\n%s\nerr: %w",
			strings.Join(cmd, " "), exitCode, tail(stdout, 2048), tail(stderr, 2048), err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s exit code=%d\nstderr:\n%s", strings.Join(cmd, " "), exitCode, tail(stderr, 2048))
	}
	return nil
}

// runWithLogs creates a container with WorkRoot bind-mounted at its host
// path, runs cmd, collects demuxed logs and cleans up.
func (d *Docker) runWithLogs(ctx context.Context, cli *client.Client, cmd []string, netEnabled bool) (stdout, stderr string, exitCode int, err error) {
	networkMode := container.NetworkMode("none")
	if netEnabled {
		networkMode = ""
	}
	hostCfg := &container.HostConfig{
		NetworkMode: networkMode,
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: d.WorkRoot,
			Target: d.WorkRoot,
		}},
	}

	create, err := cli.ContainerCreate(ctx, &container.Config{
		Image:      d.Image,
		Cmd:        cmd,
		WorkingDir: d.Framework.Dir,
		Tty:        false,
	}, hostCfg, nil, nil, "")
	if err != nil {
		return "", "", 0, fmt.Errorf("create: %w", err)
	}
	cid := create.ID
	defer func() {
		timeout := 5
		_ = cli.ContainerStop(context.Background(), cid, container.StopOptions{Timeout: &timeout})
		_ = cli.ContainerRemove(context.Background(), cid, container.RemoveOptions{Force: true})
	}()

	if err := cli.ContainerStart(ctx, cid, container.StartOptions{}); err != nil {
		return "", "", 0, fmt.Errorf("start: %w", err)
	}

	statusCh, errCh := cli.ContainerWait(ctx, cid, container.WaitConditionNotRunning)
	select {
	case err = <-errCh:
		if err != nil {
			return "", "", 0, fmt.Errorf("wait: %w", err)
		}
	case st := <-statusCh:
		exitCode = int(st.StatusCode)
	}

	var outBuf, errBuf bytes.Buffer
	logs, err := cli.ContainerLogs(ctx, cid, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		log.Printf("warn: logs for %s: %v", cid, err)
		return "", "", exitCode, nil
	}
	defer logs.Close()
	var raw bytes.Buffer
	_, _ = io.Copy(&raw, logs)
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, bytes.NewReader(raw.Bytes())); err != nil {
		// fallback: treat the whole stream as stdout
		outBuf = raw
	}
	return outBuf.String(), errBuf.String(), exitCode, nil
}
