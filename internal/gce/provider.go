// Package gce runs controlled CI servers on Google Compute Engine.
package gce

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/fleet"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/pflag"
	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ManagedLabel marks instances created by the scheduler. Only instances
// carrying it are ever listed.
const ManagedLabel = "ci-managed"

type Config struct {
	Project         string
	Zone            string
	MachineType     string
	SourceImage     string
	DiskSizeGB      int64
	Network         string
	CredentialsFile string
}

func RegisterFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.StringVar(&cfg.Project, "gce-project", "", "Google Cloud project to launch CI servers in. Cloud servers are disabled when unset.")
	flags.StringVar(&cfg.Zone, "gce-zone", "europe-north1-a", "Zone to launch CI servers in.")
	flags.StringVar(&cfg.MachineType, "gce-machine-type", "e2-standard-4", "Machine type of CI servers.")
	flags.StringVar(&cfg.SourceImage, "gce-image", "", "Boot disk image of CI servers.")
	flags.Int64Var(&cfg.DiskSizeGB, "gce-disk-size", 100, "Boot disk size of CI servers in GB.")
	flags.StringVar(&cfg.Network, "gce-network", "global/networks/default", "Network to attach CI servers to.")
	flags.StringVar(&cfg.CredentialsFile, "gce-credentials", "", "Path to service account credentials. Defaults to application default credentials.")
}

// instancesAPI is the subset of the compute API the provider calls.
type instancesAPI interface {
	insert(ctx context.Context, instance *compute.Instance) error
	get(ctx context.Context, name string) (*compute.Instance, error)
	start(ctx context.Context, name string) error
	resume(ctx context.Context, name string) error
	stop(ctx context.Context, name string) error
	suspend(ctx context.Context, name string) error
	delete(ctx context.Context, name string) error
	list(ctx context.Context, filter string, fn func(*compute.Instance)) error
}

// Provider implements fleet.Provider.
type Provider struct {
	logger logr.Logger
	config Config
	api    instancesAPI
}

// New constructs a provider. Without a project the provider is returned
// unconfigured.
func New(ctx context.Context, logger logr.Logger, cfg Config) (*Provider, error) {
	p := &Provider{logger: logger.WithValues("component", "gce"), config: cfg}
	if cfg.Project == "" {
		return p, nil
	}
	if cfg.SourceImage == "" {
		return nil, errors.New("a boot disk image must be specified")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	svc, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("constructing compute client: %w", err)
	}
	p.api = &instancesClient{svc: svc.Instances, project: cfg.Project, zone: cfg.Zone}
	return p, nil
}

func (p *Provider) Configured() bool { return p.api != nil }

func (p *Provider) LaunchInstance(ctx context.Context) (string, error) {
	name := "ci-" + petname.Generate(2, "-")
	instance := &compute.Instance{
		Name:        name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", p.config.Zone, p.config.MachineType),
		Labels:      map[string]string{ManagedLabel: "true"},
		Disks: []*compute.AttachedDisk{{
			Boot:       true,
			AutoDelete: true,
			InitializeParams: &compute.AttachedDiskInitializeParams{
				SourceImage: p.config.SourceImage,
				DiskSizeGb:  p.config.DiskSizeGB,
			},
		}},
		NetworkInterfaces: []*compute.NetworkInterface{{
			Network: p.config.Network,
			AccessConfigs: []*compute.AccessConfig{{
				Name: "External NAT",
				Type: "ONE_TO_ONE_NAT",
			}},
		}},
	}
	if err := p.api.insert(ctx, instance); err != nil {
		return "", fmt.Errorf("inserting instance %s: %w", name, err)
	}
	p.logger.Info("launched instance", "name", name)
	return name, nil
}

func (p *Provider) ResumeInstance(ctx context.Context, id string) error {
	instance, err := p.api.get(ctx, id)
	if err != nil {
		return fmt.Errorf("retrieving instance %s: %w", id, err)
	}
	if instance.Status == "SUSPENDED" {
		return p.api.resume(ctx, id)
	}
	return p.api.start(ctx, id)
}

func (p *Provider) StopInstance(ctx context.Context, id string, hibernate bool) error {
	if hibernate {
		return p.api.suspend(ctx, id)
	}
	return p.api.stop(ctx, id)
}

func (p *Provider) DeleteInstance(ctx context.Context, id string) error {
	err := p.api.delete(ctx, id)
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	p.logger.Info("deleted instance", "name", id)
	return nil
}

// GetInstanceStatuses lists all managed instances in one call and picks out
// the requested ones. Instances that no longer exist are omitted.
func (p *Provider) GetInstanceStatuses(ctx context.Context, ids []string) ([]fleet.InstanceStatus, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var statuses []fleet.InstanceStatus
	err := p.api.list(ctx, fmt.Sprintf("labels.%s = true", ManagedLabel), func(instance *compute.Instance) {
		if wanted[instance.Name] {
			statuses = append(statuses, toStatus(instance))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}
	return statuses, nil
}

func toStatus(instance *compute.Instance) fleet.InstanceStatus {
	status := fleet.InstanceStatus{ID: instance.Name}
	switch instance.Status {
	case "RUNNING":
		status.State = fleet.InstanceRunning
	case "STOPPING", "SUSPENDING":
		status.State = fleet.InstanceStopping
	// compute engine reports stopped instances as terminated
	case "TERMINATED", "STOPPED":
		status.State = fleet.InstanceStopped
	case "SUSPENDED":
		status.State = fleet.InstanceSuspended
	default:
		status.State = fleet.InstancePending
	}
	for _, iface := range instance.NetworkInterfaces {
		for _, ac := range iface.AccessConfigs {
			if ac.NatIP != "" {
				status.Address = ac.NatIP
				return status
			}
		}
	}
	return status
}

type instancesClient struct {
	svc     *compute.InstancesService
	project string
	zone    string
}

func (c *instancesClient) insert(ctx context.Context, instance *compute.Instance) error {
	_, err := c.svc.Insert(c.project, c.zone, instance).Context(ctx).Do()
	return err
}

func (c *instancesClient) get(ctx context.Context, name string) (*compute.Instance, error) {
	return c.svc.Get(c.project, c.zone, name).Context(ctx).Do()
}

func (c *instancesClient) start(ctx context.Context, name string) error {
	_, err := c.svc.Start(c.project, c.zone, name).Context(ctx).Do()
	return err
}

func (c *instancesClient) resume(ctx context.Context, name string) error {
	_, err := c.svc.Resume(c.project, c.zone, name).Context(ctx).Do()
	return err
}

func (c *instancesClient) stop(ctx context.Context, name string) error {
	_, err := c.svc.Stop(c.project, c.zone, name).Context(ctx).Do()
	return err
}

func (c *instancesClient) suspend(ctx context.Context, name string) error {
	_, err := c.svc.Suspend(c.project, c.zone, name).Context(ctx).Do()
	return err
}

func (c *instancesClient) delete(ctx context.Context, name string) error {
	_, err := c.svc.Delete(c.project, c.zone, name).Context(ctx).Do()
	return err
}

func (c *instancesClient) list(ctx context.Context, filter string, fn func(*compute.Instance)) error {
	return c.svc.List(c.project, c.zone).Filter(filter).Pages(ctx, func(page *compute.InstanceList) error {
		for _, instance := range page.Items {
			fn(instance)
		}
		return nil
	})
}
