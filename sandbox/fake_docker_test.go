package sandbox

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

type frame struct {
	stream stdcopy.StdType
	data   string
}

// containerScript describes how a fake container behaves once started.
type containerScript struct {
	frames   []frame
	exitCode int
	// hang keeps the container running forever
	hang       bool
	inspectErr error
	waitErr    error
}

type copyCall struct {
	containerID string
	dstPath     string
	files       map[string]string
}

type fakeContainer struct {
	id         string
	name       string
	config     *container.Config
	hostConfig *container.HostConfig
	script     containerScript
	server     net.Conn
	removed    bool
}

type fakeDocker struct {
	mu sync.Mutex

	now func() time.Time

	images      []image.Summary
	builds      []types.ImageBuildOptions
	buildStream func(tag string, n int) string
	buildErr    map[string]error
	// buildCache makes a cached build of an existing tag hand back the
	// existing image unchanged, as the daemon's layer cache does
	buildCache bool

	networks       []network.Summary
	networkCreates []string

	nextID     int
	containers map[string]*fakeContainer
	copies     []copyCall
	events     []string
	leftovers  []container.Summary
	script     func(name string) containerScript

	createErr error
	copyErr   error
	attachErr error
	startErr  error
	removeErr error
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		now:        time.Now,
		buildErr:   make(map[string]error),
		containers: make(map[string]*fakeContainer),
		script: func(string) containerScript {
			return containerScript{frames: []frame{{stdcopy.Stdout, "[]\n"}}}
		},
	}
}

func (f *fakeDocker) record(event string) {
	f.events = append(f.events, event)
}

func (f *fakeDocker) ImageList(_ context.Context, options image.ListOptions) ([]image.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	refs := options.Filters.Get("reference")
	var out []image.Summary
	for _, img := range f.images {
		for _, tag := range img.RepoTags {
			if slices.Contains(refs, tag) {
				out = append(out, img)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeDocker) ImageBuild(_ context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	if _, err := io.ReadAll(buildContext); err != nil {
		return types.ImageBuildResponse{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tag := options.Tags[0]
	if err := f.buildErr[tag]; err != nil {
		return types.ImageBuildResponse{}, err
	}

	f.builds = append(f.builds, options)
	n := len(f.builds)

	if f.buildCache && !options.NoCache {
		for _, img := range f.images {
			if slices.Contains(img.RepoTags, tag) {
				stream := fmt.Sprintf(`{"stream":"Step 1/1 : FROM scratch\n"}
{"stream":" ---> Using cache\n"}
{"aux":{"ID":%q}}
`, img.ID)
				return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(stream))}, nil
			}
		}
	}

	var stream string
	if f.buildStream != nil {
		stream = f.buildStream(tag, n)
	} else {
		stream = defaultBuildStream(n)
	}

	if id := digestOf(stream); id != "" {
		kept := f.images[:0]
		for _, img := range f.images {
			if !slices.Contains(img.RepoTags, tag) {
				kept = append(kept, img)
			}
		}
		f.images = append(kept, image.Summary{
			ID:       id,
			RepoTags: []string{tag},
			Created:  f.now().Unix(),
		})
	}

	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(stream))}, nil
}

func defaultBuildStream(n int) string {
	return fmt.Sprintf(`{"stream":"Step 1/1 : FROM scratch\n"}
{"aux":{"ID":"sha256:image-%d"}}
{"stream":"Successfully built image-%d\n"}
`, n, n)
}

func digestOf(stream string) string {
	if i := strings.Index(stream, `"ID":"`); i >= 0 {
		rest := stream[i+len(`"ID":"`):]
		return rest[:strings.IndexByte(rest, '"')]
	}
	return ""
}

func (f *fakeDocker) NetworkList(_ context.Context, options network.ListOptions) ([]network.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := options.Filters.Get("name")
	var out []network.Summary
	for _, n := range f.networks {
		for _, name := range names {
			if strings.Contains(n.Name, name) {
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeDocker) NetworkCreate(_ context.Context, name string, options network.CreateOptions) (network.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !options.Internal {
		return network.CreateResponse{}, errors.New("network must be internal")
	}
	id := fmt.Sprintf("net-%d", len(f.networkCreates)+1)
	f.networkCreates = append(f.networkCreates, name)
	f.networks = append(f.networks, network.Summary{ID: id, Name: name, Internal: true})
	return network.CreateResponse{ID: id}, nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *specs.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	for _, c := range f.containers {
		if c.name == containerName && !c.removed {
			return container.CreateResponse{}, errdefs.Conflict(fmt.Errorf("name %s in use", containerName))
		}
	}

	f.nextID++
	id := fmt.Sprintf("container-%d", f.nextID)
	f.containers[id] = &fakeContainer{
		id:         id,
		name:       containerName,
		config:     config,
		hostConfig: hostConfig,
		script:     f.script(containerName),
	}
	f.record("create")
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDocker) CopyToContainer(_ context.Context, containerID, dstPath string, content io.Reader, _ container.CopyToContainerOptions) error {
	files, err := readTar(content)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.copyErr != nil {
		return f.copyErr
	}
	f.copies = append(f.copies, copyCall{containerID: containerID, dstPath: dstPath, files: files})
	f.record("copy")
	return nil
}

func (f *fakeDocker) ContainerAttach(_ context.Context, containerID string, _ container.AttachOptions) (types.HijackedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.attachErr != nil {
		return types.HijackedResponse{}, f.attachErr
	}
	c, ok := f.containers[containerID]
	if !ok {
		return types.HijackedResponse{}, errdefs.NotFound(errors.New("no such container"))
	}

	clientConn, serverConn := net.Pipe()
	c.server = serverConn
	f.record("attach")
	return types.HijackedResponse{Conn: clientConn, Reader: bufio.NewReader(clientConn)}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, containerID string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		return f.startErr
	}
	c := f.containers[containerID]
	f.record("start")

	if c.server == nil || c.script.hang {
		return nil
	}

	go func(conn net.Conn, frames []frame) {
		defer conn.Close()
		for _, fr := range frames {
			if _, err := stdcopy.NewStdWriter(conn, fr.stream).Write([]byte(fr.data)); err != nil {
				return
			}
		}
	}(c.server, c.script.frames)
	return nil
}

func (f *fakeDocker) ContainerWait(_ context.Context, containerID string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)

	c := f.containers[containerID]
	f.record("wait")
	switch {
	case c.script.hang:
	case c.script.waitErr != nil:
		errCh <- c.script.waitErr
	default:
		statusCh <- container.WaitResponse{StatusCode: int64(c.script.exitCode)}
	}
	return statusCh, errCh
}

func (f *fakeDocker) ContainerInspect(_ context.Context, containerID string) (container.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.containers[containerID]
	f.record("inspect")
	if c.script.inspectErr != nil {
		return container.InspectResponse{}, c.script.inspectErr
	}
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:   c.id,
			Name: "/" + c.name,
			State: &container.State{
				ExitCode: c.script.exitCode,
			},
		},
	}, nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.removeErr != nil {
		return f.removeErr
	}
	if !options.Force {
		return errors.New("remove must be forced")
	}
	if c, ok := f.containers[containerID]; ok {
		c.removed = true
		f.record("remove")
		return nil
	}
	for i, c := range f.leftovers {
		if c.ID == containerID {
			f.leftovers = append(f.leftovers[:i], f.leftovers[i+1:]...)
			return nil
		}
	}
	return errdefs.NotFound(errors.New("no such container"))
}

func (f *fakeDocker) ContainerList(_ context.Context, options container.ListOptions) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	want := options.Filters.Get("label")
	var out []container.Summary
	for _, c := range f.leftovers {
		for _, label := range want {
			key, value, _ := strings.Cut(label, "=")
			if c.Labels[key] == value {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeDocker) Close() error {
	return nil
}

func (f *fakeDocker) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeDocker) allRemoved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if !c.removed {
			return false
		}
	}
	return true
}

func (f *fakeDocker) containerNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.containers {
		names = append(names, c.name)
	}
	return names
}

func readTar(r io.Reader) (map[string]string, error) {
	files := make(map[string]string)
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			files[header.Name] = ""
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, err
		}
		files[header.Name] = buf.String()
	}
}
