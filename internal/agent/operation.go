package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/cache"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/git"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/process"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/script"
	"github.com/fatih/color"
	"github.com/sdassow/atomic"
)

// Section names of the phases run before the build script takes over.
const (
	EnvironmentSetupSection = "Environment setup"
	RepositorySection       = "Repository checkout"
	ImageSection            = "Build image"
	BuildStartSection       = "Starting build"
)

type (
	// phase is one sequential part of a build.
	phase struct {
		section string
		fn      func(context.Context) error
	}

	runFunc func(context.Context, process.Command) (*process.Result, error)

	// operation performs the build of one job.
	operation struct {
		logger     logr.Logger
		env        *Environment
		config     Config
		sender     sectionWriter
		downloader *downloader
		run        runFunc
		// connected yields the outcome of connecting to the server.
		connected <-chan error

		paths    cache.Paths
		cacheCfg *cache.Configuration
		checkout string

		// buildSucceeded is set once the build script has run and every
		// step passed.
		buildSucceeded bool
	}
)

// phases returns the phases of a build in order.
func (o *operation) phases() []phase {
	return []phase{
		{section: EnvironmentSetupSection, fn: o.setupEnvironment},
		{section: RepositorySection, fn: o.syncRepository},
		{section: ImageSection, fn: o.acquireImage},
		{section: BuildStartSection, fn: o.build},
	}
}

// do runs the phases in turn, stopping at the first failure. It reports
// whether the build succeeded; an error is an infrastructure failure.
func (o *operation) do(ctx context.Context) (bool, error) {
	for _, p := range o.phases() {
		o.sender.StartSection(p.section)
		if err := p.fn(ctx); err != nil {
			o.reportError(err)
			o.sender.EndSection(false)
			return false, fmt.Errorf("%s: %w", strings.ToLower(p.section), err)
		}
	}
	return o.buildSucceeded, nil
}

// reportError writes an error message to the output of the open section.
func (o *operation) reportError(err error) {
	var b strings.Builder
	b.WriteRune('\n')

	red := color.New(color.FgHiRed)
	red.EnableColor() // force color on non-tty output
	red.Fprint(&b, "Error: ")

	b.WriteString(err.Error())
	b.WriteRune('\n')
	o.sender.Output(b.String())
}

func (o *operation) output(text string) {
	o.sender.Output(text)
}

func (o *operation) setupEnvironment(ctx context.Context) error {
	cfg, err := cache.ParseConfiguration(o.env.CacheOptions)
	if err != nil {
		return err
	}
	o.cacheCfg = cfg
	o.paths = cache.NewPaths(o.env.CacheRoot, o.env.Trusted)

	o.checkout, err = cache.Setup(o.logger, o.paths, cfg, cache.Variables{
		Branch:  o.env.Branch,
		JobName: o.env.JobName,
	})
	if err != nil {
		return fmt.Errorf("setting up cache: %w", err)
	}
	o.output(fmt.Sprintf("Using cache directory %s\n", filepath.Base(o.checkout)))

	select {
	case err := <-o.connected:
		if err != nil {
			return fmt.Errorf("connecting to server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *operation) syncRepository(ctx context.Context) error {
	gitLinks, otherLinks := cache.SplitGitRelated(o.cacheCfg.SharedLinks())
	repo := git.NewRepository(o.checkout, o.output)
	return repo.Sync(ctx, git.SyncOptions{
		Origin:        o.env.Origin,
		Ref:           o.env.Ref,
		DefaultBranch: o.env.DefaultBranch,
		Commit:        o.env.CommitHash,
		BeforeLFS: func(context.Context) error {
			return cache.LinkShared(o.checkout, o.paths.Shared, gitLinks)
		},
		AfterClean: func(context.Context) error {
			return cache.LinkShared(o.checkout, o.paths.Shared, otherLinks)
		},
	})
}

// build compiles the job's build script and runs it in a container. The
// script closes the section this phase opens.
func (o *operation) build(ctx context.Context) error {
	cfg, err := script.Load(o.checkout)
	if err != nil {
		return err
	}
	compiled, err := script.Compile(cfg, o.env.JobName, script.Options{
		CheckoutPath: containerCheckoutPath,
		SharedPath:   containerSharedPath,
	})
	if err != nil {
		return err
	}
	for _, w := range compiled.Warnings {
		o.output("Warning: " + w + "\n")
	}

	name := containerName(o.env.JobName)
	scriptPath := filepath.Join(o.paths.Base, "scripts", name+".sh")
	if err := os.MkdirAll(filepath.Dir(scriptPath), 0o755); err != nil {
		return err
	}
	if err := atomic.WriteFile(scriptPath, strings.NewReader(compiled.String()), atomic.DefaultFileMode(0o755)); err != nil {
		return fmt.Errorf("writing build script: %w", err)
	}
	if !o.config.KeepScript {
		defer func() {
			if err := os.Remove(scriptPath); err != nil {
				o.logger.Error(err, "removing build script", "path", scriptPath)
			}
		}()
	}

	spec := containerSpec{
		Name:     name,
		Image:    o.env.ImageName,
		Checkout: o.checkout,
		Shared:   o.paths.Shared,
		Script:   scriptPath,
		Env:      o.containerEnv(),
	}
	o.logger.V(1).Info("starting build container", "name", name, "image", spec.Image)

	out := &buildOutput{sections: o.sender}
	if _, err := o.run(ctx, process.Command{
		Name:     o.env.ContainerRuntime,
		Args:     spec.args(),
		OnStdout: out.stdout,
		OnStderr: out.stderr,
	}); err != nil {
		return fmt.Errorf("running build container: %w", err)
	}
	succeeded, err := out.result()
	if err != nil {
		return err
	}
	o.buildSucceeded = succeeded
	return nil
}

// containerEnv is the environment of the build container: details of the
// build followed by the job's secrets.
func (o *operation) containerEnv() []string {
	env := []string{
		"CI=true",
		"CI_BRANCH=" + o.env.Branch,
		"CI_REF=" + o.env.Ref,
		"CI_DEFAULT_BRANCH=" + o.env.DefaultBranch,
		"CI_COMMIT_HASH=" + o.env.CommitHash,
		"CI_EARLIER_COMMIT=" + o.env.EarlierCommit,
		"CI_JOB_NAME=" + o.env.JobName,
		"CI_TRUSTED=" + strconv.FormatBool(o.env.Trusted),
	}
	for _, s := range o.env.Secrets {
		env = append(env, s.Name+"="+s.Value)
	}
	return env
}
