package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/process"
)

// imageExists reports whether the container runtime already has the image.
func (o *operation) imageExists(ctx context.Context, name string) (bool, error) {
	res, err := o.run(ctx, process.Command{
		Name:    o.env.ContainerRuntime,
		Args:    []string{"images", "--format", "{{.Repository}}:{{.Tag}}"},
		Capture: true,
	})
	if err != nil {
		return false, fmt.Errorf("listing images: %w", err)
	}
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		if matchesImage(strings.TrimSpace(line), name) {
			return true, nil
		}
	}
	return false, nil
}

// matchesImage compares a listed image with the wanted name. Runtimes
// list images with their registry prepended.
func matchesImage(listed, name string) bool {
	if listed == name {
		return true
	}
	for _, registry := range []string{"localhost/", "docker.io/library/", "docker.io/"} {
		if listed == registry+name {
			return true
		}
	}
	return false
}

// acquireImage ensures the job's image is loaded into the container
// runtime, downloading the packaged image from the server if needed. The
// downloaded file is always removed afterwards.
func (o *operation) acquireImage(ctx context.Context) error {
	name := o.env.ImageName
	exists, err := o.imageExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		o.output(fmt.Sprintf("Image %s is already present\n", name))
		return nil
	}

	filename := o.env.ImageFilename
	if filename == "" || strings.ContainsAny(filename, `/\`) || filename == ".." {
		return fmt.Errorf("invalid image filename: %q", filename)
	}
	dest := filepath.Join(o.paths.Images, filename)
	defer func() {
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			o.logger.Error(err, "removing downloaded image", "path", dest)
		}
	}()

	o.output(fmt.Sprintf("Downloading image %s\n", filename))
	if err := o.downloader.download(ctx, filename, dest); err != nil {
		return fmt.Errorf("downloading image %s: %w", filename, err)
	}
	o.output(fmt.Sprintf("Loading image %s\n", filename))
	if _, err := o.run(ctx, process.Command{
		Name:     o.env.ContainerRuntime,
		Args:     []string{"load", "-i", dest},
		OnStdout: o.output,
		OnStderr: o.output,
	}); err != nil {
		return fmt.Errorf("loading image: %w", err)
	}
	return nil
}
