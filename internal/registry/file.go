// Package registry supplies the hosts the executor collects from and the tasks it runs,
// from YAML files or a Postgres database.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"gopkg.in/yaml.v3"
)

var ErrHostNotFound = errors.New("registry: host not found")

// hostRecord mirrors one YAML host; enabled defaults to true
type hostRecord struct {
	HostID        string `yaml:"host_id"`
	Hostname      string `yaml:"hostname"`
	IPAddress     string `yaml:"ip_address"`
	Port          int    `yaml:"port"`
	Domain        string `yaml:"domain"`
	OS            string `yaml:"os"`
	Username      string `yaml:"username"`
	CredentialRef string `yaml:"credential_ref"`
	Enabled       *bool  `yaml:"enabled"`
}

type hostsFile struct {
	Hosts []hostRecord `yaml:"hosts"`
}

type taskRecord struct {
	TaskID             string        `yaml:"task_id"`
	TargetHost         string        `yaml:"target_host"`
	CollectionClass    string        `yaml:"collection_class"`
	Priority           string        `yaml:"priority"`
	RetryPolicy        string        `yaml:"retry_policy"`
	CollectionInterval time.Duration `yaml:"collection_interval"`
	MaxRetryCount      *int          `yaml:"max_retry_count"`
	Enabled            *bool         `yaml:"enabled"`
}

type tasksFile struct {
	Tasks []taskRecord `yaml:"tasks"`
}

// FileRegistry is a read-only host registry loaded once from YAML. Host statistics
// live on the returned hosts and survive for the life of the process.
type FileRegistry struct {
	mu    sync.RWMutex
	hosts map[string]*models.Host
	order []string
}

// LoadHostsFile reads a hosts YAML file
func LoadHostsFile(path string) (*FileRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hosts file %s: %w", path, err)
	}

	return ParseHosts(data)
}

func ParseHosts(data []byte) (*FileRegistry, error) {
	var file hostsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse hosts file: %w", err)
	}

	r := &FileRegistry{hosts: make(map[string]*models.Host, len(file.Hosts))}
	for i, rec := range file.Hosts {
		host, err := rec.toHost()
		if err != nil {
			return nil, fmt.Errorf("host %d: %w", i, err)
		}
		if _, exists := r.hosts[host.HostID]; exists {
			return nil, fmt.Errorf("duplicate host_id %s", host.HostID)
		}

		r.hosts[host.HostID] = host
		r.order = append(r.order, host.HostID)
	}

	return r, nil
}

func (rec hostRecord) toHost() (*models.Host, error) {
	if rec.HostID == "" {
		return nil, fmt.Errorf("host_id is required")
	}
	if rec.IPAddress == "" && rec.Hostname == "" {
		return nil, fmt.Errorf("host %s: ip_address or hostname is required", rec.HostID)
	}
	if rec.Port < 0 || rec.Port > 65535 {
		return nil, fmt.Errorf("host %s: invalid port %d", rec.HostID, rec.Port)
	}

	enabled := true
	if rec.Enabled != nil {
		enabled = *rec.Enabled
	}

	return &models.Host{
		HostID:        rec.HostID,
		Hostname:      rec.Hostname,
		IPAddress:     rec.IPAddress,
		Port:          rec.Port,
		Domain:        rec.Domain,
		OS:            rec.OS,
		Username:      rec.Username,
		CredentialRef: rec.CredentialRef,
		Enabled:       enabled,
		Stats:         &models.HostStats{},
	}, nil
}

func (r *FileRegistry) GetHost(ctx context.Context, hostID string) (*models.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	host, ok := r.hosts[hostID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHostNotFound, hostID)
	}
	return host, nil
}

// Hosts lists every host in file order
func (r *FileRegistry) Hosts() []*models.Host {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hosts := make([]*models.Host, 0, len(r.order))
	for _, id := range r.order {
		hosts = append(hosts, r.hosts[id])
	}
	return hosts
}

// LoadTasksFile reads a tasks YAML file
func LoadTasksFile(path string) ([]*models.CollectionTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks file %s: %w", path, err)
	}

	return ParseTasks(data)
}

func ParseTasks(data []byte) ([]*models.CollectionTask, error) {
	var file tasksFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tasks file: %w", err)
	}

	tasks := make([]*models.CollectionTask, 0, len(file.Tasks))
	for i, rec := range file.Tasks {
		if rec.TaskID == "" || rec.TargetHost == "" || rec.CollectionClass == "" {
			return nil, fmt.Errorf("task %d: task_id, target_host and collection_class are required", i)
		}
		if rec.CollectionInterval < 0 {
			return nil, fmt.Errorf("task %s: collection_interval must not be negative", rec.TaskID)
		}

		enabled := true
		if rec.Enabled != nil {
			enabled = *rec.Enabled
		}

		maxRetries := models.DefaultMaxRetryCount
		if rec.MaxRetryCount != nil {
			maxRetries = *rec.MaxRetryCount
		}
		if maxRetries < 0 {
			return nil, fmt.Errorf("task %s: max_retry_count must not be negative", rec.TaskID)
		}

		tasks = append(tasks, &models.CollectionTask{
			TaskID:             rec.TaskID,
			TargetHost:         rec.TargetHost,
			CollectionClass:    rec.CollectionClass,
			Priority:           models.TaskPriority(strings.ToUpper(rec.Priority)),
			RetryPolicy:        rec.RetryPolicy,
			CollectionInterval: rec.CollectionInterval,
			MaxRetryCount:      maxRetries,
			Enabled:            enabled,
			Status:             models.TaskPending,
		})
	}

	return tasks, nil
}
